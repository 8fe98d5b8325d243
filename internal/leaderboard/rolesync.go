package leaderboard

import (
	"context"
	"sort"
	"sync"

	"rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

// MemberError records one failed grant or revoke.
type MemberError struct {
	MemberID string
	Op       string // "grant" or "revoke"
	Reason   string
}

// SyncReport is the outcome of one role synchronization pass.
type SyncReport struct {
	Revoked []string
	Granted []string
	Errors  []MemberError
}

// RoleSyncer reconciles a role's holder set against the winner set.
//
// Protocol, in fixed order: enumerate holders, revoke the role from
// holders outside the winner set, grant it to winners not yet holding
// it. Holders who won again are left untouched (no revoke-then-regrant
// flicker). Each mutation is attempted independently: one member's
// failure is recorded and the rest proceed. Re-applying an unchanged
// winner set is a no-op.
type RoleSyncer struct {
	mgr transport.RoleManager
	log logx.Logger

	// concurrency bounds parallel mutations. Ops are one-per-member, so
	// no member ever sees two concurrent mutations.
	concurrency int
}

func NewRoleSyncer(mgr transport.RoleManager, log logx.Logger) *RoleSyncer {
	return &RoleSyncer{mgr: mgr, log: log, concurrency: 4}
}

type roleOp struct {
	memberID string
	grant    bool
}

// Sync applies the protocol. It returns an error only when the holder
// enumeration itself fails; per-member failures land in the report.
func (s *RoleSyncer) Sync(ctx context.Context, roleID string, winners []Entry) (*SyncReport, error) {
	holders, err := s.mgr.RoleHolders(ctx, roleID)
	if err != nil {
		return nil, err
	}

	winnerSet := make(map[string]struct{}, len(winners))
	for _, w := range winners {
		winnerSet[w.AuthorID] = struct{}{}
	}
	holderSet := make(map[string]struct{}, len(holders))
	for _, h := range holders {
		holderSet[h] = struct{}{}
	}

	var ops []roleOp
	for _, h := range holders {
		if _, won := winnerSet[h]; !won {
			ops = append(ops, roleOp{memberID: h})
		}
	}
	for _, w := range winners {
		if _, has := holderSet[w.AuthorID]; !has {
			ops = append(ops, roleOp{memberID: w.AuthorID, grant: true})
		}
	}

	report := &SyncReport{}
	if len(ops) == 0 {
		return report, nil
	}

	workers := s.concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(ops) {
		workers = len(ops)
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		queue = make(chan roleOp)
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for op := range queue {
				s.apply(ctx, roleID, op, report, &mu)
			}
		}()
	}
	for _, op := range ops {
		queue <- op
	}
	close(queue)
	wg.Wait()

	// Deterministic report order regardless of worker interleaving.
	sort.Strings(report.Revoked)
	sort.Strings(report.Granted)
	sort.Slice(report.Errors, func(i, j int) bool {
		return report.Errors[i].MemberID < report.Errors[j].MemberID
	})
	return report, nil
}

func (s *RoleSyncer) apply(ctx context.Context, roleID string, op roleOp, report *SyncReport, mu *sync.Mutex) {
	var err error
	opName := "revoke"
	if op.grant {
		opName = "grant"
		err = s.mgr.GrantRole(ctx, op.memberID, roleID)
	} else {
		err = s.mgr.RevokeRole(ctx, op.memberID, roleID)
	}

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		s.log.Warn("role mutation failed",
			logx.String("op", opName),
			logx.String("member_id", op.memberID),
			logx.Err(err))
		report.Errors = append(report.Errors, MemberError{MemberID: op.memberID, Op: opName, Reason: err.Error()})
		return
	}
	if op.grant {
		report.Granted = append(report.Granted, op.memberID)
	} else {
		report.Revoked = append(report.Revoked, op.memberID)
	}
}
