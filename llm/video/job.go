package video

import (
	"fmt"
	"time"

	"github.com/BaSui01/genstudio/llm"
)

// State 视频任务状态
type State string

const (
	StateIdle      State = "IDLE"
	StateSubmitted State = "SUBMITTED"
	StatePolling   State = "POLLING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// 合法迁移。终态没有出边。
var transitions = map[State][]State{
	StateIdle:      {StateSubmitted, StateFailed},
	StateSubmitted: {StatePolling, StateSucceeded, StateFailed},
	StatePolling:   {StateSucceeded, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job 是一个视频生成任务的状态记录。
// 由 Poller 独占修改；调用方通过 Handle.Snapshot 获得副本。
type Job struct {
	ID         string           `json:"id"`
	Provider   llm.ProviderKind `json:"provider"`
	Backend    string           `json:"backend"`
	Model      string           `json:"model"`
	TaskID     string           `json:"task_id,omitempty"`
	State      State            `json:"state"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Attempts   int              `json:"attempts"`

	ResultURL string     `json:"result_url,omitempty"`
	Blob      []byte     `json:"-"`
	MIMEType  string     `json:"mime_type,omitempty"`
	Err       *llm.Error `json:"error,omitempty"`

	// History 依次记录经过的状态，首项为 IDLE
	History []State `json:"history"`
}

func newJob(id string, provider llm.ProviderKind, backend, model string) *Job {
	return &Job{
		ID:        id,
		Provider:  provider,
		Backend:   backend,
		Model:     model,
		State:     StateIdle,
		StartedAt: time.Now(),
		History:   []State{StateIdle},
	}
}

// transition 执行状态迁移，终态之后的任何迁移都会被拒绝。
func (j *Job) transition(to State) error {
	if !canTransition(j.State, to) {
		return fmt.Errorf("video job %s: illegal transition %s -> %s", j.ID, j.State, to)
	}
	j.State = to
	j.History = append(j.History, to)
	if to.Terminal() {
		j.FinishedAt = time.Now()
	}
	return nil
}

func (j *Job) succeed(url string, blob []byte, mime string) error {
	if err := j.transition(StateSucceeded); err != nil {
		return err
	}
	j.ResultURL = url
	j.Blob = blob
	j.MIMEType = mime
	return nil
}

func (j *Job) fail(e *llm.Error) error {
	if err := j.transition(StateFailed); err != nil {
		return err
	}
	j.Err = e
	return nil
}

// Visited reports whether the job ever entered state s.
func (j *Job) Visited(s State) bool {
	for _, h := range j.History {
		if h == s {
			return true
		}
	}
	return false
}

// Failure 返回失败原因；非 FAILED 状态返回 nil。
func (j *Job) Failure() error {
	if j.State != StateFailed || j.Err == nil {
		return nil
	}
	return j.Err
}

// Duration 返回任务耗时，未结束时计算到当前。
func (j *Job) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

func (j *Job) clone() Job {
	c := *j
	c.History = append([]State(nil), j.History...)
	if j.Blob != nil {
		c.Blob = append([]byte(nil), j.Blob...)
	}
	return c
}
