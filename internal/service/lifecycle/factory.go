package lifecycle

import (
	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/registry"
)

// ControllerHelm names the Helm backed controller.
const ControllerHelm = "helm"

// Factory builds a controller for one record.
type Factory func(deps *Dependencies, svc *domain.Service) ServiceController

// NewRegistry returns the controller implementations selectable by configuration.
func NewRegistry() *registry.Registry[Factory] {
	r := registry.New[Factory]()
	r.MustRegister(ControllerHelm, func(deps *Dependencies, svc *domain.Service) ServiceController {
		return NewController(deps, svc)
	})
	return r
}
