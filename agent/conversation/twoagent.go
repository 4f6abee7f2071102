package conversation

import (
	"context"

	"github.com/BaSui01/chatflow/types"
)

// DefaultMaxTurns bounds a two-agent chat when no limit is given.
const DefaultMaxTurns = 10

// ChatOptions configures a two-agent chat.
type ChatOptions struct {
	// MaxTurns 计一次往返（接收方回复 + 发送方回复）为一轮
	MaxTurns      int
	IsTermination TerminationFunc
	Summary       SummaryMethod
	Summarizer    *Summarizer
	ChatID        string
}

// ChatResult is a finished chat together with its summary.
type ChatResult struct {
	*Result
	Summary string `json:"summary"`
}

// TwoAgentChat builds the group chat used by InitiateChat: the two
// participants alternate for 2*maxTurns messages.
func TwoAgentChat(sender, recipient Participant, maxTurns int, isTermination TerminationFunc) *GroupChat {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &GroupChat{
		Participants:  []Participant{sender, recipient},
		Policy:        RoundRobin(),
		MaxRounds:     2 * maxTurns,
		IsTermination: isTermination,
	}
}

// InitiateChat has sender open a conversation with recipient.
func (s *Scheduler) InitiateChat(ctx context.Context, sender, recipient Participant, message string, opts ChatOptions) (*ChatResult, error) {
	if sender == nil || recipient == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "sender and recipient are required")
	}
	gc := TwoAgentChat(sender, recipient, opts.MaxTurns, opts.IsTermination)
	res, err := s.Run(ctx, gc, Start{ChatID: opts.ChatID, Speaker: sender.Name(), Content: message})
	if err != nil {
		if res == nil {
			return nil, err
		}
		return &ChatResult{Result: res}, err
	}

	summary, err := Summarize(ctx, opts.Summary, res, opts.Summarizer)
	return &ChatResult{Result: res, Summary: summary}, err
}
