package provision

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/polarfoxDev/wharf/internal/labels"
)

// Descriptor holds everything that goes into an instance's compose file
type Descriptor struct {
	Token          string
	Port           int
	Image          string
	DBImage        string
	DBName         string
	DBUser         string
	DBPassword     string
	DBRootPassword string
	WebRoot        string
	BackupDir      string
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]struct{}       `yaml:"volumes"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Restart     string            `yaml:"restart,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// ProjectName is the compose project (and instance namespace) for a token
func ProjectName(token string) string {
	return "wharf-" + token
}

func memberLabels(token, member string) map[string]string {
	return map[string]string{
		labels.LManaged: "true",
		labels.LToken:   token,
		labels.LMember:  member,
	}
}

// Render produces the compose YAML. It has no side effects.
func Render(d Descriptor) ([]byte, error) {
	if d.Token == "" || d.Port <= 0 {
		return nil, fmt.Errorf("descriptor needs a token and a port")
	}
	f := composeFile{
		Services: map[string]composeService{
			labels.MemberDB: {
				Image:   d.DBImage,
				Restart: "unless-stopped",
				Environment: map[string]string{
					"MARIADB_DATABASE":      d.DBName,
					"MARIADB_USER":          d.DBUser,
					"MARIADB_PASSWORD":      d.DBPassword,
					"MARIADB_ROOT_PASSWORD": d.DBRootPassword,
				},
				Volumes: []string{"db_data:/var/lib/mysql"},
				Labels:  memberLabels(d.Token, labels.MemberDB),
			},
			labels.MemberApp: {
				Image:     d.Image,
				Restart:   "unless-stopped",
				DependsOn: []string{labels.MemberDB},
				Ports:     []string{strconv.Itoa(d.Port) + ":80"},
				Environment: map[string]string{
					"WORDPRESS_DB_HOST":     labels.MemberDB + ":3306",
					"WORDPRESS_DB_NAME":     d.DBName,
					"WORDPRESS_DB_USER":     d.DBUser,
					"WORDPRESS_DB_PASSWORD": d.DBPassword,
				},
				Volumes: []string{
					"wp_data:" + d.WebRoot,
					"wp_backups:" + d.BackupDir,
				},
				Labels: memberLabels(d.Token, labels.MemberApp),
			},
		},
		Volumes: map[string]struct{}{
			"db_data":    {},
			"wp_data":    {},
			"wp_backups": {},
		},
	}
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("render compose descriptor: %w", err)
	}
	return out, nil
}
