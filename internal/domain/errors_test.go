package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSnapshotNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "not found error",
			err:  ErrSnapshotNotFound,
			want: true,
		},
		{
			name: "wrapped not found error",
			err:  fmt.Errorf("get snapshot %q: %w", "promo-team-cart", ErrSnapshotNotFound),
			want: true,
		},
		{
			name: "corrupt snapshot",
			err:  errors.Join(ErrSnapshotCorrupt, errors.New("unexpected end of JSON input")),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsSnapshotNotFound(tt.err)
			if got != tt.want {
				t.Errorf("IsSnapshotNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}
