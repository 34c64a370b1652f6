package httpx

import (
	"time"

	"github.com/osval-do/USOP/internal/domain"
)

type serviceView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Release   string         `json:"release"`
	Status    string         `json:"status"`
	Blocked   bool           `json:"blocked"`
	Region    string         `json:"region,omitempty"`
	Org       string         `json:"org,omitempty"`
	Namespace string         `json:"namespace"`
	Chart     string         `json:"chart"`
	Version   string         `json:"version,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (r *Router) serviceView(svc *domain.Service) serviceView {
	view := serviceView{
		ID:        svc.ExtID,
		Name:      svc.Name,
		Release:   svc.PID,
		Status:    string(svc.Status),
		Blocked:   svc.Blocked,
		Namespace: svc.Namespace(r.defaultNamespace),
		Chart:     svc.Template.Chart,
		Version:   svc.Template.Version,
		Settings:  svc.Settings,
		CreatedAt: svc.CreatedAt,
		UpdatedAt: svc.UpdatedAt,
	}
	if svc.Region != nil {
		view.Region = svc.Region.Name
	}
	if svc.Org != nil {
		view.Org = svc.Org.Name
	}
	return view
}

type transitionView struct {
	Transition string    `json:"transition"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

type createRequest struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Region          string         `json:"region"`
	RegionNamespace string         `json:"region_namespace"`
	Org             string         `json:"org"`
	OrgNamespace    string         `json:"org_namespace"`
	Template        string         `json:"template"`
	Chart           string         `json:"chart"`
	Version         string         `json:"version"`
	Settings        map[string]any `json:"settings"`
	Blocked         bool           `json:"blocked"`
}
