package jobs

import "testing"

func TestAutoGrant(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		allowed []string
		want    bool
	}{
		{
			name:    "exact match",
			action:  "run_tests",
			allowed: []string{"run_tests"},
			want:    true,
		},
		{
			name:    "case insensitive match",
			action:  "Run_Tests",
			allowed: []string{"run_tests"},
			want:    true,
		},
		{
			name:    "whitespace is ignored",
			action:  " run_tests ",
			allowed: []string{"run_tests"},
			want:    true,
		},
		{
			name:    "wildcard grants everything",
			action:  "install_deps",
			allowed: []string{"*"},
			want:    true,
		},
		{
			name:    "not listed",
			action:  "network",
			allowed: []string{"run_tests", "install_deps"},
			want:    false,
		},
		{
			name:    "empty list denies",
			action:  "run_tests",
			allowed: nil,
			want:    false,
		},
		{
			name:    "empty action is never granted",
			action:  "",
			allowed: []string{"*"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoGrant(tt.action, tt.allowed); got != tt.want {
				t.Errorf("AutoGrant(%q, %v) = %v, want %v", tt.action, tt.allowed, got, tt.want)
			}
		})
	}
}
