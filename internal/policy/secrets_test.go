package policy

import "testing"

func TestSecretVisibleIn(t *testing.T) {
	cases := []struct {
		name      string
		secret    Secret
		workspace string
		want      bool
	}{
		{"global anywhere", Secret{Scope: ScopeGlobal}, "/w1", true},
		{"session anywhere", Secret{Scope: ScopeSession}, "/w1", true},
		{"workspace match", Secret{Scope: ScopeWorkspace, Qualifier: "/w1"}, "/w1", true},
		{"workspace mismatch", Secret{Scope: ScopeWorkspace, Qualifier: "/w1"}, "/w2", false},
		{"group always deferred", Secret{Scope: ScopeGroup, Qualifier: "ops"}, "/w1", false},
		{"unknown scope", Secret{Scope: "mystery"}, "/w1", false},
	}
	for _, tc := range cases {
		if got := tc.secret.VisibleIn(tc.workspace); got != tc.want {
			t.Fatalf("%s: visible = %v, want %v", tc.name, got, tc.want)
		}
	}
}
