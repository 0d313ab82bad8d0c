package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/polarfoxDev/wharf/internal/labels"
)

func TestRender(t *testing.T) {
	out, err := Render(Descriptor{
		Token:          "abc123",
		Port:           4001,
		Image:          "wordpress:6",
		DBImage:        "mariadb:11",
		DBName:         "wordpress",
		DBUser:         "wordpress",
		DBPassword:     "p: 'quoted'",
		DBRootPassword: "root",
		WebRoot:        "/var/www/html",
		BackupDir:      "/var/backups/wharf",
	})
	require.NoError(t, err)

	var f composeFile
	require.NoError(t, yaml.Unmarshal(out, &f))

	app := f.Services[labels.MemberApp]
	assert.Equal(t, []string{"4001:80"}, app.Ports)
	assert.Equal(t, "p: 'quoted'", app.Environment["WORDPRESS_DB_PASSWORD"])
	assert.Equal(t, "abc123", app.Labels[labels.LToken])
	assert.Equal(t, labels.MemberApp, app.Labels[labels.LMember])
	assert.Contains(t, app.Volumes, "wp_backups:/var/backups/wharf")

	db := f.Services[labels.MemberDB]
	assert.Equal(t, "mariadb:11", db.Image)
	assert.Equal(t, "true", db.Labels[labels.LManaged])
	assert.Len(t, f.Volumes, 3)

	again, err := Render(Descriptor{Token: "abc123", Port: 4001, Image: "wordpress:6", DBImage: "mariadb:11",
		DBName: "wordpress", DBUser: "wordpress", DBPassword: "p: 'quoted'", DBRootPassword: "root",
		WebRoot: "/var/www/html", BackupDir: "/var/backups/wharf"})
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again), "rendering is deterministic")
}

func TestRender_RequiresTokenAndPort(t *testing.T) {
	_, err := Render(Descriptor{Port: 4000})
	assert.Error(t, err)
	_, err = Render(Descriptor{Token: "x"})
	assert.Error(t, err)
}
