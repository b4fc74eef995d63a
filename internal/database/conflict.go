package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// contended is implemented by records guarded by the create-if-absent
// reconciliation below.
type contended interface {
	recordID() uint
	recordCreatedAt() time.Time
}

// resolveDuplicates converges all rows matching one logical key to a single
// canonical row. The store only guarantees per-statement atomicity, so two
// ingestion paths that look up the same missing key concurrently will both
// insert; callers run this after their insert. The earliest-created row is
// kept (lowest ID on a timestamp tie) and the rest are deleted.
//
// Returns the kept row and whether the caller's insert (insertedID) is the
// one kept. Counter increments and dependent-resource attachment must be
// gated on that boolean; a caller that lost the race rolls back any side
// effects it performed speculatively. The winner rule is deterministic, so
// re-entering the resolution step -- two racers resolving at once, or a
// retry after a crash mid-resolution -- converges to the same row.
func resolveDuplicates[T contended](db *gorm.DB, insertedID uint, fetch func() ([]T, error)) (*T, bool, error) {
	rows, err := fetch()
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-query contended key: %w", err)
	}
	if len(rows) == 0 {
		// Another racer's resolution pass deleted our row before we got
		// here and the winner vanished too; nothing left to return.
		return nil, false, ErrNotFound
	}

	winner := 0
	for i := 1; i < len(rows); i++ {
		if earlier(rows[i], rows[winner]) {
			winner = i
		}
	}

	var loserIDs []uint
	for i, row := range rows {
		if i != winner {
			loserIDs = append(loserIDs, row.recordID())
		}
	}
	if len(loserIDs) > 0 {
		if err := db.Delete(new(T), loserIDs).Error; err != nil {
			return nil, false, fmt.Errorf("failed to delete losing duplicates: %w", err)
		}
	}

	kept := rows[winner]
	return &kept, kept.recordID() == insertedID, nil
}

func earlier[T contended](a, b T) bool {
	at, bt := a.recordCreatedAt(), b.recordCreatedAt()
	if at.Equal(bt) {
		return a.recordID() < b.recordID()
	}
	return at.Before(bt)
}

func (s Sender) recordID() uint                    { return s.ID }
func (s Sender) recordCreatedAt() time.Time        { return s.CreatedAt }
func (r Relationship) recordID() uint              { return r.ID }
func (r Relationship) recordCreatedAt() time.Time  { return r.CreatedAt }
func (c SharedContent) recordID() uint             { return c.ID }
func (c SharedContent) recordCreatedAt() time.Time { return c.CreatedAt }
