// Package provision stands up and tears down WordPress instances.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"golang.org/x/crypto/bcrypt"

	"github.com/polarfoxDev/wharf/internal/config"
	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/executor"
	"github.com/polarfoxDev/wharf/internal/labels"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/ports"
	"github.com/polarfoxDev/wharf/internal/saga"
	"github.com/polarfoxDev/wharf/internal/wpcli"
)

// Finder locates the running container (docker) or pod (kubernetes) of an
// instance member, matched by namespace and token label; "" means not
// running yet.
type Finder interface {
	FindContainer(ctx context.Context, namespace, token, member string) (string, error)
}

// Composer starts and stops compose projects
type Composer interface {
	Up(ctx context.Context, project, file string) error
	Down(ctx context.Context, project, file string) error
}

// Runtime controls containers and volumes of the docker engine
type Runtime interface {
	ContainerVolumes(ctx context.Context, name string) ([]string, error)
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string) error
}

// Request describes a new instance
type Request struct {
	Title         string `json:"title"`
	AdminUser     string `json:"adminUser"`
	AdminPassword string `json:"adminPassword"`
	AdminEmail    string `json:"adminEmail"`
}

func (r *Request) validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.AdminUser = strings.TrimSpace(r.AdminUser)
	switch {
	case r.Title == "":
		return fmt.Errorf("%w: title is required", model.ErrInvalidRequest)
	case r.AdminUser == "":
		return fmt.Errorf("%w: admin user is required", model.ErrInvalidRequest)
	case r.AdminPassword == "":
		return fmt.Errorf("%w: admin password is required", model.ErrInvalidRequest)
	case len(r.AdminPassword) > 72:
		return fmt.Errorf("%w: admin password is longer than 72 bytes", model.ErrInvalidRequest)
	}
	return nil
}

// AdoptRequest registers an instance that was deployed outside wharf. Its
// pods carry the token and member labels; Namespace defaults to the
// configured runtime namespace.
type AdoptRequest struct {
	Namespace  string `json:"namespace"`
	Token      string `json:"token"`
	Title      string `json:"title"`
	AdminUser  string `json:"adminUser"`
	AdminEmail string `json:"adminEmail"`
	Port       int    `json:"port"`
	SiteURL    string `json:"siteUrl"`
}

type Provisioner struct {
	DB       *database.DB
	Ports    *ports.Allocator
	Exec     executor.Executor
	Finder   Finder
	Compose  Composer // nil when instances run on kubernetes
	Runtime  Runtime  // nil when instances run on kubernetes
	Commands *wpcli.Commands
	Resolver executor.Resolver
	Log      *logging.Logger
	Clock    clock.Clock
	Locks    *kmutex.Kmutex // per-instance, shared with the backup and site flows

	Namespace       string // default namespace of adopted instances
	WorkDir         string
	PublicHost      string
	Image           string
	DBImage         string
	AdminEmail      string
	BaselinePlugins []string
	StabilizeDelay  time.Duration
	DiscoveryDelay  time.Duration
	DiscoveryTries  int
}

// New builds a Provisioner from configuration. compose and rt may be nil
// when instances run on kubernetes; Create then refuses to run.
func New(cfg *config.Config, db *database.DB, exec executor.Executor, finder Finder, compose Composer, rt Runtime, log *logging.Logger) *Provisioner {
	if log == nil {
		log = logging.Nop()
	}
	return &Provisioner{
		DB:      db,
		Ports:   ports.NewAllocator(db, cfg.Ports.Min, cfg.Ports.Max),
		Exec:    exec,
		Finder:  finder,
		Compose: compose,
		Runtime: rt,
		Commands: &wpcli.Commands{
			WebRoot:   cfg.WordPress.WebRoot,
			BackupDir: cfg.WordPress.BackupDir,
			CLIURL:    cfg.WordPress.CLIURL,
		},
		Resolver:        executor.Resolver{Kubernetes: cfg.Runtime.Executor == "kubernetes"},
		Log:             log,
		Clock:           clock.WallClock,
		Locks:           kmutex.New(),
		Namespace:       cfg.Runtime.Namespace,
		WorkDir:         cfg.WorkDir,
		PublicHost:      cfg.PublicHost,
		Image:           cfg.WordPress.Image,
		DBImage:         cfg.WordPress.DBImage,
		AdminEmail:      cfg.WordPress.AdminEmail,
		BaselinePlugins: cfg.WordPress.BaselinePlugins,
		StabilizeDelay:  cfg.WordPress.StabilizeDelay.Duration,
		DiscoveryDelay:  cfg.WordPress.DiscoveryDelay.Duration,
		DiscoveryTries:  cfg.WordPress.DiscoveryTries,
	}
}

// tokenPattern is the kubernetes label value syntax
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_.-]{0,61}[A-Za-z0-9])?$`)

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func newSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create provisions a new instance. The Instance row is written last; any
// failure before that undoes the completed steps in reverse order.
func (p *Provisioner) Create(ctx context.Context, req Request) (inst *model.Instance, err error) {
	defer metrics.ObserveFlow("provision", time.Now(), &err)

	if err := req.validate(); err != nil {
		return nil, err
	}
	if p.Compose == nil {
		return nil, fmt.Errorf("%w: provisioning needs the docker runtime; use adopt on kubernetes", model.ErrInvalidRequest)
	}
	if req.AdminEmail == "" {
		req.AdminEmail = p.AdminEmail
	}

	token := newToken()
	project := ProjectName(token)
	dir := filepath.Join(p.WorkDir, token)
	file := filepath.Join(dir, "docker-compose.yml")
	dbPass := newSecret()
	var (
		res    *ports.Reservation
		target executor.Target
	)
	fl := p.Log.Flow("provision", 0)
	defer func() { res.Release() }()

	inst = &model.Instance{
		Token:      token,
		Namespace:  project,
		Title:      req.Title,
		AdminUser:  req.AdminUser,
		AdminEmail: req.AdminEmail,
	}

	s := saga.New(fl.Logf)
	s.Add("allocate port", func(ctx context.Context) error {
		r, err := p.Ports.Allocate(ctx)
		if err != nil {
			return err
		}
		res = r
		inst.Port = r.Port
		inst.SiteURL = fmt.Sprintf("http://%s:%d", p.PublicHost, r.Port)
		fl.Info("reserved port %d for %q", r.Port, req.Title)
		return nil
	}, func(context.Context) error {
		res.Release()
		return nil
	})
	s.Add("write descriptor", func(context.Context) error {
		out, err := Render(Descriptor{
			Token:          token,
			Port:           inst.Port,
			Image:          p.Image,
			DBImage:        p.DBImage,
			DBName:         "wordpress",
			DBUser:         "wordpress",
			DBPassword:     dbPass,
			DBRootPassword: newSecret(),
			WebRoot:        p.Commands.WebRoot,
			BackupDir:      p.Commands.BackupDir,
		})
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create instance dir: %w", err)
		}
		return os.WriteFile(file, out, 0o600)
	}, func(context.Context) error {
		return os.RemoveAll(dir)
	})
	s.Add("compose up", func(ctx context.Context) error {
		if err := p.Compose.Up(ctx, project, file); err != nil {
			// up can fail half way through; take down whatever was created
			if derr := p.Compose.Down(context.WithoutCancel(ctx), project, file); derr != nil {
				fl.Warn("cleanup after failed compose up: %v", derr)
			}
			return err
		}
		return nil
	}, func(ctx context.Context) error {
		return p.Compose.Down(ctx, project, file)
	})
	s.Add("discover containers", func(ctx context.Context) error {
		app, err := p.discover(ctx, project, token, labels.MemberApp)
		if err != nil {
			return err
		}
		db, err := p.discover(ctx, project, token, labels.MemberDB)
		if err != nil {
			return err
		}
		inst.AppContainer, inst.DBContainer = app, db
		target = p.Resolver.App(inst)
		fl.Info("containers ready: %s, %s", app, db)
		return nil
	}, nil)
	s.Add("install wp-cli", func(ctx context.Context) error {
		_, err := p.Exec.Execute(ctx, target, p.Commands.InstallCLI())
		return err
	}, nil)
	s.Add("stabilize", func(ctx context.Context) error {
		return p.wait(ctx, p.StabilizeDelay)
	}, nil)
	s.Add("install wordpress", func(ctx context.Context) error {
		_, err := p.Exec.Execute(ctx, target, wpcli.Join(
			p.Commands.ResetConfig(),
			p.Commands.ConfigCreate(wpcli.DBParams{Name: "wordpress", User: "wordpress", Password: dbPass, Host: labels.MemberDB + ":3306"}),
			p.Commands.CoreInstall(wpcli.InstallParams{
				URL:           inst.SiteURL,
				Title:         req.Title,
				AdminUser:     req.AdminUser,
				AdminPassword: req.AdminPassword,
				AdminEmail:    req.AdminEmail,
			}),
		))
		return err
	}, nil)
	s.Add("activate plugins", func(ctx context.Context) error {
		_, err := p.Exec.Execute(ctx, target, wpcli.Join(
			p.Commands.PluginActivate(p.BaselinePlugins...),
			p.Commands.Chown(p.Commands.WebRoot),
		))
		return err
	}, nil)
	s.Add("query versions", func(ctx context.Context) error {
		wp, php, err := p.versions(ctx, target)
		if err != nil {
			return err
		}
		inst.WPVersion, inst.PHPVersion = wp, php
		return nil
	}, nil)
	s.Add("persist instance", func(ctx context.Context) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		inst.AdminPasswordHash = string(hash)
		if err := p.DB.CreateInstance(ctx, inst); err != nil {
			if errors.Is(err, database.ErrPortTaken) {
				return fmt.Errorf("%w: %w", model.ErrResourceExhausted, err)
			}
			return err
		}
		return nil
	}, nil)

	if err := s.Run(ctx); err != nil {
		fl.Error("provisioning %q failed: %v", req.Title, err)
		return nil, err
	}
	p.Log.Flow("provision", inst.ID).Info("instance %d (%s) ready at %s", inst.ID, project, inst.SiteURL)
	return inst, nil
}

// discover polls until the member's container is running
func (p *Provisioner) discover(ctx context.Context, namespace, token, member string) (string, error) {
	var name string
	errPending := errors.New("not running yet")
	err := retry.Call(retry.CallArgs{
		Clock:    p.Clock,
		Attempts: max(p.DiscoveryTries, 1),
		Delay:    max(p.DiscoveryDelay, time.Millisecond),
		Stop:     ctx.Done(),
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errPending)
		},
		Func: func() error {
			n, err := p.Finder.FindContainer(ctx, namespace, token, member)
			if err != nil {
				return err
			}
			if n == "" {
				return errPending
			}
			name = n
			return nil
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s member of %s: %w", model.ErrContainerDiscovery, member, namespace, retry.LastError(err))
	}
	return name, nil
}

func (p *Provisioner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-p.Clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provisioner) versions(ctx context.Context, target executor.Target) (wp, php string, err error) {
	out, err := p.Exec.Execute(ctx, target, p.Commands.CoreVersion())
	if err != nil {
		return "", "", fmt.Errorf("query wordpress version: %w", err)
	}
	wp = wpcli.ParseVersion(out)
	out, err = p.Exec.Execute(ctx, target, p.Commands.PHPVersion())
	if err != nil {
		return "", "", fmt.Errorf("query php version: %w", err)
	}
	return wp, wpcli.ParseVersion(out), nil
}

// Adopt registers a WordPress deployment that wharf did not provision,
// e.g. pods on kubernetes labeled with their member role.
func (p *Provisioner) Adopt(ctx context.Context, req AdoptRequest) (*model.Instance, error) {
	if req.Namespace == "" {
		req.Namespace = p.Namespace
	}
	if req.Namespace == "" || req.Port <= 0 || strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: namespace, port and title are required", model.ErrInvalidRequest)
	}
	if !tokenPattern.MatchString(req.Token) {
		return nil, fmt.Errorf("%w: token %q is not a valid label value", model.ErrInvalidRequest, req.Token)
	}
	fl := p.Log.Flow("adopt", 0)

	app, err := p.discover(ctx, req.Namespace, req.Token, labels.MemberApp)
	if err != nil {
		return nil, err
	}
	db, err := p.discover(ctx, req.Namespace, req.Token, labels.MemberDB)
	if err != nil {
		return nil, err
	}
	inst := &model.Instance{
		Token:        req.Token,
		Namespace:    req.Namespace,
		AppContainer: app,
		DBContainer:  db,
		Port:         req.Port,
		SiteURL:      req.SiteURL,
		Title:        strings.TrimSpace(req.Title),
		AdminUser:    req.AdminUser,
		AdminEmail:   req.AdminEmail,
	}
	if inst.SiteURL == "" {
		inst.SiteURL = fmt.Sprintf("http://%s:%d", p.PublicHost, req.Port)
	}
	if inst.WPVersion, inst.PHPVersion, err = p.versions(ctx, p.Resolver.App(inst)); err != nil {
		return nil, err
	}
	if err := p.DB.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, database.ErrPortTaken) {
			return nil, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err)
		}
		return nil, err
	}
	fl.WithInstance(inst.ID).Info("adopted %s/%s as instance %d", req.Namespace, app, inst.ID)
	return inst, nil
}

// Delete tears an instance down. Every phase is attempted even if an
// earlier one fails; only the lookup and the final soft delete are fatal.
func (p *Provisioner) Delete(ctx context.Context, id int64) (err error) {
	defer metrics.ObserveFlow("teardown", time.Now(), &err)

	// waits for a running capture or restore to finish
	if p.Locks != nil {
		p.Locks.Lock(id)
		defer p.Locks.Unlock(id)
	}

	inst, err := p.DB.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	fl := p.Log.Flow("teardown", id)

	s := saga.New(fl.Warn)
	if p.Runtime != nil {
		var volumes []string
		for _, name := range []string{inst.AppContainer, inst.DBContainer} {
			s.Add("inspect "+name, func(ctx context.Context) error {
				vols, err := p.Runtime.ContainerVolumes(ctx, name)
				volumes = append(volumes, vols...)
				return err
			}, nil)
			s.Add("stop "+name, func(ctx context.Context) error {
				return p.Runtime.StopContainer(ctx, name)
			}, nil)
			s.Add("remove "+name, func(ctx context.Context) error {
				return p.Runtime.RemoveContainer(ctx, name)
			}, nil)
		}
		s.Add("remove volumes", func(ctx context.Context) error {
			var errs []error
			for _, v := range volumes {
				if err := p.Runtime.RemoveVolume(ctx, v); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}, nil)
		s.Add("remove workdir", func(context.Context) error {
			return os.RemoveAll(filepath.Join(p.WorkDir, inst.Token))
		}, nil)
	}
	s.Add("soft-delete backups", func(ctx context.Context) error {
		n, err := p.DB.SoftDeleteInstanceBackups(ctx, id)
		if err == nil && n > 0 {
			fl.Info("soft-deleted %d backup record(s)", n)
		}
		return err
	}, nil)
	s.Add("cancel jobs", func(ctx context.Context) error {
		_, err := p.DB.CancelInstanceJobs(ctx, id)
		return err
	}, nil)
	s.Add("remove recurrences", func(ctx context.Context) error {
		_, err := p.DB.RemoveRecurrences(ctx, id, "")
		return err
	}, nil)

	if err := s.RunAll(ctx); err != nil {
		fl.Warn("teardown of instance %d finished with errors: %v", id, err)
	}
	if err := p.DB.SoftDeleteInstance(ctx, id); err != nil {
		return err
	}
	fl.Info("instance %d (%s) deleted", id, inst.Namespace)
	return nil
}

func (p *Provisioner) Get(ctx context.Context, id int64) (*model.Instance, error) {
	return p.DB.GetInstance(ctx, id)
}

func (p *Provisioner) List(ctx context.Context) ([]*model.Instance, error) {
	return p.DB.ListInstances(ctx)
}
