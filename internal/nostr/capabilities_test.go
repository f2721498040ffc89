package nostr

import (
	"context"
	"testing"
)

func TestRelayInfoSupports(t *testing.T) {
	tests := []struct {
		name string
		nips []any
		want bool
	}{
		{"int", []any{1, 11, 22}, true},
		{"decoded json number", []any{float64(1), float64(22)}, true},
		{"string", []any{"1", "22"}, true},
		{"missing", []any{1, 11, "65", float64(13)}, false},
		{"empty", nil, false},
		{"unexpected type", []any{true, []int{22}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &RelayInfo{SupportedNIPs: tt.nips}
			if got := info.Supports(NIP22); got != tt.want {
				t.Errorf("Supports(NIP22) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchRelayInfosUnreachable(t *testing.T) {
	client := New(context.Background(), testRelayConfig())
	defer client.Close()

	infos, errs := client.FetchRelayInfos(context.Background(), []string{"ws://127.0.0.1:1"})
	if len(infos) != 0 {
		t.Errorf("Expected no infos, got %v", infos)
	}
	if errs["ws://127.0.0.1:1"] == nil {
		t.Error("Expected an error for the unreachable relay")
	}
}
