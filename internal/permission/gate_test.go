package permission_test

import (
	"errors"
	"testing"

	"github.com/edumarques81/stellar-shell/internal/permission"
)

type fakeChecker map[string]bool

func (f fakeChecker) CheckSelfPermission(perm string) bool { return f[perm] }

type fakeRequester struct {
	calls []permission.Request
	err   error
}

func (f *fakeRequester) RequestPermissions(perms []string, code int) error {
	f.calls = append(f.calls, permission.Request{Code: code, Permissions: perms})
	return f.err
}

func TestGateAlreadyGranted(t *testing.T) {
	req := &fakeRequester{}
	g := permission.NewGate(fakeChecker{permission.StorageRead: true}, req)

	if !g.CheckAndRequest(permission.StorageRead) {
		t.Error("expected CheckAndRequest to report granted")
	}
	if len(req.calls) != 0 {
		t.Errorf("expected no request, got %d", len(req.calls))
	}
	if o := g.Outcome(); !o.Decided || !o.Granted {
		t.Errorf("unexpected outcome %+v", o)
	}
	if !g.Outcome().IsGranted(permission.StorageRead) {
		t.Error("held permission should report granted")
	}
}

func TestGateRequestsOnce(t *testing.T) {
	req := &fakeRequester{}
	g := permission.NewGate(fakeChecker{}, req)

	if g.CheckAndRequest(permission.StorageRead) {
		t.Fatal("expected missing permission")
	}
	g.CheckAndRequest(permission.StorageRead)

	if len(req.calls) != 1 {
		t.Fatalf("expected exactly one request, got %d", len(req.calls))
	}
	if req.calls[0].Code != permission.RequestCodePermissions {
		t.Errorf("expected request code %d, got %d", permission.RequestCodePermissions, req.calls[0].Code)
	}
	if p := g.Pending(); p == nil || p.Code != permission.RequestCodePermissions {
		t.Errorf("expected pending request, got %+v", p)
	}
}

func TestGateRequesterErrorClearsPending(t *testing.T) {
	req := &fakeRequester{err: errors.New("no UI attached")}
	g := permission.NewGate(fakeChecker{}, req)

	g.CheckAndRequest(permission.StorageRead)
	if g.Pending() != nil {
		t.Error("failed request should not stay outstanding")
	}

	req.err = nil
	g.CheckAndRequest(permission.StorageRead)
	if len(req.calls) != 2 {
		t.Errorf("expected a retry after failure, got %d calls", len(req.calls))
	}
}

func TestGateOnResult(t *testing.T) {
	tests := []struct {
		name          string
		results       []permission.Result
		expectGranted bool
		expectDenied  []string
	}{
		{"granted", []permission.Result{permission.Granted}, true, nil},
		{"denied", []permission.Result{permission.Denied}, false, []string{permission.StorageRead}},
		{"missing result", nil, false, []string{permission.StorageRead}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := permission.NewGate(fakeChecker{}, &fakeRequester{})
			g.CheckAndRequest(permission.StorageRead)

			var notified []permission.Outcome
			g.Listen(func(o permission.Outcome) { notified = append(notified, o) })

			outcome, ok := g.OnResult(permission.RequestCodePermissions, []string{permission.StorageRead}, tt.results)
			if !ok {
				t.Fatal("expected result to be accepted")
			}
			if outcome.Granted != tt.expectGranted {
				t.Errorf("Granted = %v, want %v", outcome.Granted, tt.expectGranted)
			}
			if len(outcome.Denied) != len(tt.expectDenied) {
				t.Errorf("Denied = %v, want %v", outcome.Denied, tt.expectDenied)
			}
			if len(notified) != 1 {
				t.Errorf("expected 1 notification, got %d", len(notified))
			}
			if g.Pending() != nil {
				t.Error("request should be consumed")
			}

			err := outcome.Err()
			if tt.expectGranted && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if !tt.expectGranted && !errors.Is(err, permission.ErrPermissionDenied) {
				t.Errorf("expected ErrPermissionDenied, got %v", err)
			}
		})
	}
}

func TestGatePartialAnswer(t *testing.T) {
	tests := []struct {
		name        string
		perms       []string
		results     []permission.Result
		wantGranted bool
		wantDenied  []string
	}{
		{
			name:       "requested permission left out",
			perms:      []string{"storage.write"},
			results:    []permission.Result{permission.Granted},
			wantDenied: []string{permission.StorageRead},
		},
		{
			name:       "dismissed prompt",
			wantDenied: []string{permission.StorageRead, "storage.write"},
		},
		{
			name:        "answered out of order",
			perms:       []string{"storage.write", permission.StorageRead},
			results:     []permission.Result{permission.Granted, permission.Granted},
			wantGranted: true,
		},
		{
			name:       "extra permission granted, requested one denied",
			perms:      []string{permission.StorageRead, "storage.write", "camera"},
			results:    []permission.Result{permission.Denied, permission.Granted, permission.Granted},
			wantDenied: []string{permission.StorageRead},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := permission.NewGate(fakeChecker{}, &fakeRequester{})
			g.CheckAndRequest(permission.StorageRead, "storage.write")

			outcome, ok := g.OnResult(permission.RequestCodePermissions, tt.perms, tt.results)
			if !ok {
				t.Fatal("expected result to be accepted")
			}
			if outcome.Granted != tt.wantGranted {
				t.Errorf("Granted = %v, want %v", outcome.Granted, tt.wantGranted)
			}
			if len(outcome.Denied) != len(tt.wantDenied) {
				t.Fatalf("Denied = %v, want %v", outcome.Denied, tt.wantDenied)
			}
			for i := range tt.wantDenied {
				if outcome.Denied[i] != tt.wantDenied[i] {
					t.Errorf("Denied = %v, want %v", outcome.Denied, tt.wantDenied)
				}
			}
			if outcome.IsGranted("camera") {
				t.Error("a permission that was never requested is never granted")
			}
			if !tt.wantGranted && outcome.Err() == nil {
				t.Error("expected ErrPermissionDenied")
			}
		})
	}
}

func TestGateCopiesRequestedPermissions(t *testing.T) {
	req := &fakeRequester{}
	g := permission.NewGate(fakeChecker{}, req)

	perms := []string{permission.StorageRead}
	g.CheckAndRequest(perms...)
	perms[0] = "camera"

	p := g.Pending()
	if p == nil || p.Permissions[0] != permission.StorageRead {
		t.Fatalf("pending request changed with caller slice: %+v", p)
	}
	p.Permissions[0] = "camera"
	if g.Pending().Permissions[0] != permission.StorageRead {
		t.Error("Pending must return a copy")
	}
	if req.calls[0].Permissions[0] != permission.StorageRead {
		t.Error("requester should get its own copy")
	}
}

func TestGateMismatchedTokenIgnored(t *testing.T) {
	g := permission.NewGate(fakeChecker{}, &fakeRequester{})
	g.CheckAndRequest(permission.StorageRead)

	notified := 0
	g.Listen(func(permission.Outcome) { notified++ })

	before := g.Outcome()
	if _, ok := g.OnResult(99, []string{permission.StorageRead}, []permission.Result{permission.Granted}); ok {
		t.Error("mismatched token should be rejected")
	}

	if notified != 0 {
		t.Errorf("listener called for mismatched token")
	}
	if after := g.Outcome(); after.Decided != before.Decided || after.Granted != before.Granted {
		t.Errorf("outcome changed: %+v", g.Outcome())
	}
	if g.Pending() == nil {
		t.Error("outstanding request should survive a mismatched result")
	}
}

func TestGateResultWithoutRequestIgnored(t *testing.T) {
	g := permission.NewGate(fakeChecker{}, &fakeRequester{})

	if _, ok := g.OnResult(permission.RequestCodePermissions, []string{permission.StorageRead}, []permission.Result{permission.Granted}); ok {
		t.Error("result without outstanding request should be rejected")
	}
	if g.Outcome().Decided {
		t.Error("outcome should stay undecided")
	}
}

func TestGateDuplicateResultIgnored(t *testing.T) {
	g := permission.NewGate(fakeChecker{}, &fakeRequester{})
	g.CheckAndRequest(permission.StorageRead)

	perms := []string{permission.StorageRead}
	if _, ok := g.OnResult(permission.RequestCodePermissions, perms, []permission.Result{permission.Denied}); !ok {
		t.Fatal("first result should be accepted")
	}
	if _, ok := g.OnResult(permission.RequestCodePermissions, perms, []permission.Result{permission.Granted}); ok {
		t.Error("second result for the same request should be dropped")
	}
	if g.Outcome().Granted {
		t.Error("outcome should still be denied")
	}
}

func TestGateUnsubscribe(t *testing.T) {
	g := permission.NewGate(fakeChecker{}, &fakeRequester{})
	g.CheckAndRequest(permission.StorageRead)

	calls := 0
	unsubscribe := g.Listen(func(permission.Outcome) { calls++ })
	unsubscribe()

	g.OnResult(permission.RequestCodePermissions, []string{permission.StorageRead}, []permission.Result{permission.Granted})
	if calls != 0 {
		t.Errorf("unsubscribed listener was called")
	}
}
