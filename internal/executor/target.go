package executor

import "github.com/polarfoxDev/wharf/internal/model"

// Resolver maps an instance to the target its WordPress member runs on
type Resolver struct {
	Kubernetes bool
	// AppContainer is the container name inside the pod (kubernetes only)
	AppContainer string
}

// App returns the target of the instance's application container
func (r Resolver) App(inst *model.Instance) Target {
	if r.Kubernetes {
		c := r.AppContainer
		if c == "" {
			c = "wordpress"
		}
		return Target{Namespace: inst.Namespace, Pod: inst.AppContainer, Container: c}
	}
	return Target{Namespace: inst.Namespace, Container: inst.AppContainer}
}
