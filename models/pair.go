package models

import (
	"strings"
	"time"
)

// PairKey derives the canonical identifier for a partnership. Both devices
// compute it independently, so it must not depend on which member asks.
func PairKey(memberA, memberB string) string {
	if memberB < memberA {
		memberA, memberB = memberB, memberA
	}
	return memberA + ":" + memberB
}

// PairMembers splits a pair key back into its two member IDs.
func PairMembers(pairKey string) (string, string) {
	parts := strings.SplitN(pairKey, ":", 2)
	if len(parts) != 2 {
		return pairKey, ""
	}
	return parts[0], parts[1]
}

// WaitingPeer returns the member that must hold back during the daily quest
// election. The lexicographically-second member waits; the first one gets the
// head start at generating.
func WaitingPeer(pairKey string) string {
	_, second := PairMembers(pairKey)
	return second
}

// PartnerOf returns the other member of the pair, or "" if memberID is not a
// member at all.
func PartnerOf(pairKey, memberID string) string {
	a, b := PairMembers(pairKey)
	switch memberID {
	case a:
		return b
	case b:
		return a
	}
	return ""
}

// DateKey formats t as the canonical calendar-date key used in remote paths.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
