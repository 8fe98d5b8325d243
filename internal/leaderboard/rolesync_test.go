package leaderboard

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	logx "rankbot/pkg/logx"
)

// fakeRoles tracks one role's holder set in memory.
type fakeRoles struct {
	mu      sync.Mutex
	holders map[string]bool

	enumerateErr error
	failRevoke   map[string]error
	failGrant    map[string]error

	grants, revokes int
}

func newFakeRoles(holders ...string) *fakeRoles {
	f := &fakeRoles{holders: map[string]bool{}}
	for _, h := range holders {
		f.holders[h] = true
	}
	return f
}

func (f *fakeRoles) RoleHolders(ctx context.Context, roleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumerateErr != nil {
		return nil, f.enumerateErr
	}
	out := make([]string, 0, len(f.holders))
	for h := range f.holders {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRoles) GrantRole(ctx context.Context, memberID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants++
	if err := f.failGrant[memberID]; err != nil {
		return err
	}
	f.holders[memberID] = true
	return nil
}

func (f *fakeRoles) RevokeRole(ctx context.Context, memberID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes++
	if err := f.failRevoke[memberID]; err != nil {
		return err
	}
	delete(f.holders, memberID)
	return nil
}

func (f *fakeRoles) holderList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.holders))
	for h := range f.holders {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func winnersOf(ids ...string) []Entry {
	w := make([]Entry, 0, len(ids))
	for _, id := range ids {
		w = append(w, Entry{AuthorID: id, Count: 1})
	}
	return w
}

func TestSyncRevokesAndGrants(t *testing.T) {
	roles := newFakeRoles("old1", "old2", "kept")
	syncer := NewRoleSyncer(roles, logx.Nop())

	report, err := syncer.Sync(context.Background(), "role", winnersOf("kept", "new1"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if want := []string{"old1", "old2"}; !reflect.DeepEqual(report.Revoked, want) {
		t.Errorf("Revoked = %v, want %v", report.Revoked, want)
	}
	if want := []string{"new1"}; !reflect.DeepEqual(report.Granted, want) {
		t.Errorf("Granted = %v, want %v", report.Granted, want)
	}
	if len(report.Errors) != 0 {
		t.Errorf("Errors = %v", report.Errors)
	}
	if want := []string{"kept", "new1"}; !reflect.DeepEqual(roles.holderList(), want) {
		t.Errorf("holders = %v, want %v", roles.holderList(), want)
	}
}

func TestSyncRetainedWinnerUntouched(t *testing.T) {
	roles := newFakeRoles("kept")
	syncer := NewRoleSyncer(roles, logx.Nop())

	if _, err := syncer.Sync(context.Background(), "role", winnersOf("kept")); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if roles.grants != 0 || roles.revokes != 0 {
		t.Fatalf("retained winner mutated: grants=%d revokes=%d", roles.grants, roles.revokes)
	}
}

func TestSyncIdempotent(t *testing.T) {
	roles := newFakeRoles("old")
	syncer := NewRoleSyncer(roles, logx.Nop())
	winners := winnersOf("w1", "w2")

	if _, err := syncer.Sync(context.Background(), "role", winners); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	roles.grants, roles.revokes = 0, 0

	report, err := syncer.Sync(context.Background(), "role", winners)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(report.Revoked)+len(report.Granted)+len(report.Errors) != 0 {
		t.Fatalf("second pass not a no-op: %+v", report)
	}
	if roles.grants != 0 || roles.revokes != 0 {
		t.Fatalf("second pass issued mutations: grants=%d revokes=%d", roles.grants, roles.revokes)
	}
}

func TestSyncMemberFailureIsolated(t *testing.T) {
	roles := newFakeRoles("a", "b", "c")
	roles.failRevoke = map[string]error{"b": errors.New("missing permission")}
	syncer := NewRoleSyncer(roles, logx.Nop())

	report, err := syncer.Sync(context.Background(), "role", nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if want := []string{"a", "c"}; !reflect.DeepEqual(report.Revoked, want) {
		t.Errorf("Revoked = %v, want %v", report.Revoked, want)
	}
	if len(report.Errors) != 1 || report.Errors[0].MemberID != "b" || report.Errors[0].Op != "revoke" {
		t.Fatalf("Errors = %+v", report.Errors)
	}
}

func TestSyncEnumerationFailure(t *testing.T) {
	roles := newFakeRoles()
	roles.enumerateErr = errors.New("guild unavailable")
	syncer := NewRoleSyncer(roles, logx.Nop())

	if _, err := syncer.Sync(context.Background(), "role", winnersOf("w")); err == nil {
		t.Fatal("enumeration failure must fail the sync")
	}
	if roles.grants != 0 {
		t.Fatalf("mutations issued after enumeration failure: %d", roles.grants)
	}
}

func TestSyncEmptyWinners(t *testing.T) {
	roles := newFakeRoles("a", "b")
	syncer := NewRoleSyncer(roles, logx.Nop())

	report, err := syncer.Sync(context.Background(), "role", nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Revoked) != 2 || len(roles.holderList()) != 0 {
		t.Fatalf("empty winners must clear holders: %+v / %v", report, roles.holderList())
	}
}
