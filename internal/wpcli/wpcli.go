// Package wpcli renders the shell scripts wharf runs inside WordPress
// containers. Every interpolated value goes through shellescape.Quote.
package wpcli

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/polarfoxDev/wharf/internal/model"
)

// slugPattern matches wordpress.org plugin and theme slugs
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func checkSlug(kind, name string) error {
	if !slugPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid %s name %q", model.ErrInvalidRequest, kind, name)
	}
	return nil
}

// Commands builds scripts for one container layout
type Commands struct {
	WebRoot   string // document root of the WordPress install
	BackupDir string // where artifacts are written, outside WebRoot
	CLIURL    string // wp-cli phar download location
	Bin       string // wp binary, default /usr/local/bin/wp
	Owner     string // owner for chown, default www-data:www-data
}

func (c *Commands) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "/usr/local/bin/wp"
}

func (c *Commands) owner() string {
	if c.Owner != "" {
		return c.Owner
	}
	return "www-data:www-data"
}

func q(s string) string { return shellescape.Quote(s) }

func quoteAll(vals []string) string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = q(v)
	}
	return strings.Join(out, " ")
}

// wp renders one wp-cli invocation; args are escaped one by one
func (c *Commands) wp(args ...string) string {
	return q(c.bin()) + " --allow-root --path=" + q(c.WebRoot) + " " + quoteAll(args)
}

// flag renders --name=value as a single escaped word
func flag(name, value string) string {
	return "--" + name + "=" + value
}

// Join chains scripts so the first failure stops the sequence
func Join(scripts ...string) string {
	parts := make([]string, 0, len(scripts))
	for _, s := range scripts {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return "set -e; " + strings.Join(parts, "; ")
}

// InstallTools makes sure zip, unzip, curl and a mysql client exist
func (c *Commands) InstallTools() string {
	return "if ! command -v zip >/dev/null 2>&1 || ! command -v unzip >/dev/null 2>&1 || ! command -v mysql >/dev/null 2>&1 || ! command -v curl >/dev/null 2>&1; then " +
		"(apt-get update -qq && DEBIAN_FRONTEND=noninteractive apt-get install -y -qq --no-install-recommends zip unzip less curl default-mysql-client) >/dev/null; fi"
}

// InstallCLI downloads the wp-cli phar and marks it executable
func (c *Commands) InstallCLI() string {
	return Join(
		c.InstallTools(),
		"curl -fsSL -o "+q(c.bin())+" "+q(c.CLIURL),
		"chmod +x "+q(c.bin()),
		q(c.bin())+" --allow-root --version",
	)
}

// ResetConfig removes an existing wp-config.php
func (c *Commands) ResetConfig() string {
	return "rm -f " + q(path.Join(c.WebRoot, "wp-config.php"))
}

type DBParams struct {
	Name     string
	User     string
	Password string
	Host     string
}

// ConfigCreate generates wp-config.php bound to the database member
func (c *Commands) ConfigCreate(db DBParams) string {
	return c.wp("config", "create",
		flag("dbname", db.Name), flag("dbuser", db.User), flag("dbpass", db.Password), flag("dbhost", db.Host),
		"--skip-check", "--force")
}

type InstallParams struct {
	URL           string
	Title         string
	AdminUser     string
	AdminPassword string
	AdminEmail    string
}

// CoreInstall runs the WordPress install routine
func (c *Commands) CoreInstall(p InstallParams) string {
	return c.wp("core", "install",
		flag("url", p.URL), flag("title", p.Title), flag("admin_user", p.AdminUser),
		flag("admin_password", p.AdminPassword), flag("admin_email", p.AdminEmail), "--skip-email")
}

// PluginActivate activates installed plugins
func (c *Commands) PluginActivate(names ...string) string {
	if len(names) == 0 {
		return "true"
	}
	return c.wp(append([]string{"plugin", "activate"}, names...)...)
}

// PluginAction runs install, activate, deactivate, update or delete on one plugin
func (c *Commands) PluginAction(action, name string) (string, error) {
	switch action {
	case "install", "activate", "deactivate", "update", "delete":
	default:
		return "", fmt.Errorf("%w: unsupported plugin action %q", model.ErrInvalidRequest, action)
	}
	if err := checkSlug("plugin", name); err != nil {
		return "", err
	}
	return c.wp("plugin", action, name), nil
}

// ThemeActivate switches the active theme
func (c *Commands) ThemeActivate(name string) (string, error) {
	if err := checkSlug("theme", name); err != nil {
		return "", err
	}
	return c.wp("theme", "activate", name), nil
}

// Chown hands paths to the web server user
func (c *Commands) Chown(paths ...string) string {
	return "chown -R " + q(c.owner()) + " " + quoteAll(paths)
}

func (c *Commands) CoreVersion() string {
	return c.wp("core", "version")
}

func (c *Commands) PHPVersion() string {
	return c.wp("eval", "echo PHP_VERSION;")
}

func (c *Commands) PluginList() string {
	return c.wp("plugin", "list", "--format=json", "--fields=name,status,version,update")
}

func (c *Commands) ThemeList() string {
	return c.wp("theme", "list", "--format=json", "--fields=name,status,version,update")
}

func (c *Commands) UserList() string {
	return c.wp("user", "list", "--format=json", "--fields=user_login,user_email,display_name,roles")
}

// MaintenanceMode toggles the maintenance page
func (c *Commands) MaintenanceMode(on bool) string {
	if on {
		return c.wp("maintenance-mode", "activate")
	}
	return c.wp("maintenance-mode", "deactivate")
}

// SearchReplace rewrites a string across all tables. wp-cli would read a
// leading dash as a flag, so such values are refused.
func (c *Commands) SearchReplace(from, to string, dryRun bool) (string, error) {
	if from == "" {
		return "", fmt.Errorf("%w: search string is empty", model.ErrInvalidRequest)
	}
	for _, v := range []string{from, to} {
		if strings.HasPrefix(v, "-") {
			return "", fmt.Errorf("%w: search-replace value %q starts with a dash", model.ErrInvalidRequest, v)
		}
	}
	args := []string{"search-replace", from, to, "--all-tables", "--precise", "--format=count"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	return c.wp(args...), nil
}

// ArtifactPaths returns the archive and dump paths inside BackupDir for a backup name
func (c *Commands) ArtifactPaths(name string) (archive, dump string) {
	return path.Join(c.BackupDir, name+".zip"), path.Join(c.BackupDir, name+".sql")
}

// Capture exports the database and zips the web root into BackupDir
func (c *Commands) Capture(archive, dump string) string {
	return Join(
		c.InstallTools(),
		"mkdir -p "+q(c.BackupDir),
		c.wp("db", "export", dump),
		"cd "+q(c.WebRoot),
		"zip -qr "+q(archive)+" .",
	)
}

// Download fetches url into dest
func (c *Commands) Download(url, dest string) string {
	return Join(
		"mkdir -p "+q(path.Dir(dest)),
		"curl -fsSL --retry 3 -o "+q(dest)+" "+q(url),
	)
}

// TestArchive checks zip integrity without extracting anything
func (c *Commands) TestArchive(archive string) string {
	return "unzip -tq " + q(archive)
}

// ExtractDir is where an archive is unpacked before it replaces the web root
func (c *Commands) ExtractDir(name string) string {
	return path.Join(c.BackupDir, name+"-extract")
}

// Extract unpacks archive into dir, replacing dir
func (c *Commands) Extract(archive, dir string) string {
	return Join(
		"rm -rf "+q(dir),
		"mkdir -p "+q(dir),
		"unzip -oq "+q(archive)+" -d "+q(dir),
	)
}

// ReplaceWebRoot swaps the web root contents for the extracted tree
func (c *Commands) ReplaceWebRoot(dir string) string {
	return Join(
		"find "+q(c.WebRoot)+" -mindepth 1 -delete",
		"cp -a "+q(dir+"/.")+" "+q(c.WebRoot+"/"),
	)
}

// RestoreSampleConfig copies wp-config-sample.php back from the image sources
func (c *Commands) RestoreSampleConfig() string {
	return "if [ -f /usr/src/wordpress/wp-config-sample.php ]; then cp -a /usr/src/wordpress/wp-config-sample.php " +
		q(path.Join(c.WebRoot, "wp-config-sample.php")) + "; fi"
}

func (c *Commands) DBImport(dump string) string {
	return c.wp("db", "import", dump)
}

// Remove deletes files or directories
func (c *Commands) Remove(paths ...string) string {
	return "rm -rf -- " + quoteAll(paths)
}

// Cat writes a file to stdout, used to stream artifacts out of a container
func (c *Commands) Cat(p string) string {
	return "cat -- " + q(p)
}
