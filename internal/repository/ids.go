package repository

import (
	"fmt"
	"strings"

	"shopledger/internal/db"
)

const (
	productIDPrefix = "SC-SKU-"
	expenseIDPrefix = "EXP-"
)

// takenIDs collects the non-blank values of column.
func takenIDs(snap *db.Snapshot, column string) map[string]struct{} {
	taken := make(map[string]struct{}, len(snap.Records))
	for _, rec := range snap.Records {
		if id := strings.TrimSpace(rec[column]); id != "" {
			taken[id] = struct{}{}
		}
	}
	return taken
}

// nextSequentialID probes prefix00001, prefix00002, ... and returns the
// first value not in taken, adding it to taken.
func nextSequentialID(prefix string, taken map[string]struct{}) string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("%s%05d", prefix, n)
		if _, ok := taken[id]; !ok {
			taken[id] = struct{}{}
			return id
		}
	}
}

// backfillIDs gives every row with a blank column a fresh sequential id and
// reports how many rows changed.
func backfillIDs(snap *db.Snapshot, column, prefix string) int {
	taken := takenIDs(snap, column)
	filled := 0
	for _, rec := range snap.Records {
		if strings.TrimSpace(rec[column]) == "" {
			rec[column] = nextSequentialID(prefix, taken)
			filled++
		}
	}
	return filled
}
