package stores

import (
	"errors"
	"fmt"
	"testing"
)

func TestStoreErrorMatching(t *testing.T) {
	cause := errors.New("disk I/O error")

	tests := []struct {
		name     string
		err      error
		sentinel error
		want     bool
	}{
		{name: "read matches read", err: readError("list", cause), sentinel: ErrRead, want: true},
		{name: "read is not write", err: readError("list", cause), sentinel: ErrWrite, want: false},
		{name: "write matches write", err: writeError("save", cause), sentinel: ErrWrite, want: true},
		{name: "connection matches connection", err: connectionError("init", cause), sentinel: ErrConnection, want: true},
		{name: "wrapped write", err: fmt.Errorf("saving icon: %w", writeError("save", cause)), sentinel: ErrWrite, want: true},
		{name: "op-specific target", err: writeError("trim", cause), sentinel: &StoreError{Kind: KindWrite, Op: "save"}, want: false},
		{name: "cause is reachable", err: readError("count", cause), sentinel: cause, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.sentinel); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", writeError("delete", errors.New("locked")))

	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatal("expected errors.As to find a StoreError")
	}
	if se.Op != "delete" {
		t.Errorf("expected op delete, got %s", se.Op)
	}
	if KindOf(err) != KindWrite {
		t.Errorf("expected kind write, got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty kind for non-store error")
	}
	if se.Error() != "history write error (op=delete): locked" {
		t.Errorf("unexpected message: %s", se.Error())
	}
}
