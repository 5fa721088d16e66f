package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is one step of an outreach sequence: connection_request,
// direct_message_N or follow_up_N.
type Stage string

type StageKind string

const (
	StageKindConnectionRequest StageKind = "connection_request"
	StageKindDirectMessage     StageKind = "direct_message"
	StageKindFollowUp          StageKind = "follow_up"
)

const StageConnectionRequest = Stage(StageKindConnectionRequest)

func DirectMessageStage(n int) Stage {
	return Stage(fmt.Sprintf("%s_%d", StageKindDirectMessage, n))
}

func FollowUpStage(n int) Stage {
	return Stage(fmt.Sprintf("%s_%d", StageKindFollowUp, n))
}

// Parts splits a stage into its kind and 1-based index. The index is 0 for
// connection_request and for malformed stages.
func (s Stage) Parts() (StageKind, int) {
	if s == StageConnectionRequest {
		return StageKindConnectionRequest, 0
	}
	for _, kind := range []StageKind{StageKindDirectMessage, StageKindFollowUp} {
		prefix := string(kind) + "_"
		if !strings.HasPrefix(string(s), prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(string(s), prefix))
		if err != nil || n < 1 {
			return "", 0
		}
		return kind, n
	}
	return "", 0
}

func (s Stage) Valid() bool {
	kind, n := s.Parts()
	return kind == StageKindConnectionRequest || n > 0
}

// SentStatus is the prospect status reached once this stage is delivered.
func (s Stage) SentStatus() ProspectStatus {
	kind, _ := s.Parts()
	switch kind {
	case StageKindConnectionRequest:
		return ProspectStatusConnectionRequestSent
	case StageKindFollowUp:
		return ProspectStatusFollowUpSent
	default:
		return ProspectStatusDirectMessageSent
	}
}

// IsConnectionRequest is used for daily cap accounting.
func (s Stage) IsConnectionRequest() bool {
	return s == StageConnectionRequest
}
