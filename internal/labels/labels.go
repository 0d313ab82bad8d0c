package labels

const (
	// set by wharf in the rendered compose descriptor (and expected on
	// kubernetes pods of adopted instances)
	LManaged = "dev.polarfox.wharf.managed"
	LToken   = "dev.polarfox.wharf.token"
	LMember  = "dev.polarfox.wharf.member"

	// set by docker compose itself
	LComposeProject = "com.docker.compose.project"
	LComposeService = "com.docker.compose.service"
)

// Instance members; also the compose service names
const (
	MemberApp = "wordpress"
	MemberDB  = "db"
)
