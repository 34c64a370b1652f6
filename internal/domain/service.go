package domain

import (
	"strings"
	"time"
)

// Region is a deployment area. Its namespace, when set, wins over the owning org's.
type Region struct {
	ID        string
	Name      string
	Namespace string
	Disabled  bool
}

// Org owns services and may carry a default namespace.
type Org struct {
	ID        string
	Name      string
	Namespace string
}

// TemplateRef identifies the chart and version a service is rendered from.
type TemplateRef struct {
	ID      string
	Name    string
	Chart   string
	Version string
}

// Service is the record the lifecycle controller reads and commits state to.
type Service struct {
	ID        string
	ExtID     string
	PID       string
	Name      string
	Status    ServiceStatus
	Blocked   bool
	Region    *Region
	Org       *Org
	Template  TemplateRef
	Settings  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Namespace resolves the cluster namespace for the service: region first, then org, then fallback.
func (s *Service) Namespace(fallback string) string {
	if s.Region != nil {
		if ns := strings.TrimSpace(s.Region.Namespace); ns != "" {
			return ns
		}
	}
	if s.Org != nil {
		if ns := strings.TrimSpace(s.Org.Namespace); ns != "" {
			return ns
		}
	}
	return fallback
}

// Clone returns a copy safe to hand to persistence without aliasing the caller's record.
func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	out := *s
	if s.Region != nil {
		region := *s.Region
		out.Region = &region
	}
	if s.Org != nil {
		org := *s.Org
		out.Org = &org
	}
	if s.Settings != nil {
		out.Settings = make(map[string]any, len(s.Settings))
		for k, v := range s.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}
