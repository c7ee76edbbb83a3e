// Package callback encodes and decodes inline button payloads.
//
// Every payload has the form "action:id[:id...]". Ids are the database ids
// needed to resolve the transition, so a tap never depends on message text.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Action string

const (
	AcceptChallenge       Action = "accept_challenge"    // challenge id
	SuggestChallenge      Action = "suggest_challenge"   // goal id, challenge id
	MarkComplete          Action = "mark_complete"       // challenge response id
	ValidateYes           Action = "validate_yes"        // challenge response id
	ValidateNo            Action = "validate_no"         // challenge response id
	JoinGoal              Action = "join_goal"           // goal id
	AcceptPrizeFight      Action = "accept_prizefight"   // proposal id
	SuggestPrizeFight     Action = "suggest_prizefight"  // proposal id
	CompletePrizeFight    Action = "complete_prizefight" // prize fight id
	PrizeFightValidateYes Action = "prizefight_validate_yes"
	PrizeFightValidateNo  Action = "prizefight_validate_no"
)

// arity is the number of ids each action carries.
var arity = map[Action]int{
	AcceptChallenge:       1,
	SuggestChallenge:      2,
	MarkComplete:          1,
	ValidateYes:           1,
	ValidateNo:            1,
	JoinGoal:              1,
	AcceptPrizeFight:      1,
	SuggestPrizeFight:     1,
	CompletePrizeFight:    1,
	PrizeFightValidateYes: 2, // prize fight id, claimant user id
	PrizeFightValidateNo:  2,
}

// maxDataLen is Telegram's limit on callback data.
const maxDataLen = 64

var ErrMalformed = errors.New("malformed callback data")

// Data is a decoded button payload.
type Data struct {
	Action Action
	IDs    []int64
}

// ID returns the i-th id, or zero when absent.
func (d Data) ID(i int) int64 {
	if i < 0 || i >= len(d.IDs) {
		return 0
	}
	return d.IDs[i]
}

// Encode renders a payload. It panics on a wrong id count, which is a programming error.
func Encode(action Action, ids ...int64) string {
	n, ok := arity[action]
	if !ok || n != len(ids) {
		panic(fmt.Sprintf("callback: %s takes %d ids, got %d", action, n, len(ids)))
	}
	var b strings.Builder
	b.WriteString(string(action))
	for _, id := range ids {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

// Decode parses a payload produced by Encode.
func Decode(raw string) (Data, error) {
	if raw == "" || len(raw) > maxDataLen {
		return Data{}, ErrMalformed
	}
	parts := strings.Split(raw, ":")
	action := Action(parts[0])
	n, ok := arity[action]
	if !ok {
		return Data{}, fmt.Errorf("%w: unknown action %q", ErrMalformed, parts[0])
	}
	if len(parts)-1 != n {
		return Data{}, fmt.Errorf("%w: %s wants %d ids", ErrMalformed, action, n)
	}
	ids := make([]int64, 0, n)
	for _, p := range parts[1:] {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Data{}, fmt.Errorf("%w: bad id %q", ErrMalformed, p)
		}
		ids = append(ids, id)
	}
	return Data{Action: action, IDs: ids}, nil
}
