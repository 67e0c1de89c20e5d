package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPublicPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		public []string
		want   bool
	}{
		{name: "exact match", path: "/health", public: DefaultPublicPaths, want: true},
		{name: "sub path", path: "/health/live", public: DefaultPublicPaths, want: true},
		{name: "shared prefix only", path: "/healthcheck", public: DefaultPublicPaths, want: false},
		{name: "api path", path: "/api/v1/schedules", public: DefaultPublicPaths, want: false},
		{name: "traversal", path: "/health/../api/v1/schedules", public: DefaultPublicPaths, want: false},
		{name: "double slash", path: "//readiness", public: DefaultPublicPaths, want: true},
		{name: "encoded slash", path: "/health%2F..%2Fapi", public: DefaultPublicPaths, want: false},
		{name: "encoded dot", path: "/health/%2e%2e/api", public: DefaultPublicPaths, want: false},
		{name: "relative public path", path: "/api/v1/jobs", public: []string{"api/v1/jobs"}, want: true},
		{name: "root makes everything public", path: "/api/v1/schedules/1/run", public: []string{"/"}, want: true},
		{name: "no public paths", path: "/health", public: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsPublicPath(tt.path, tt.public))
		})
	}
}
