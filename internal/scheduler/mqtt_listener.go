package scheduler

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
	"github.com/nerrad567/nmr-lab-core/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client used by MQTTListener.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTListener publishes run progress as JSON summaries. Raw buffers are
// not published; subscribers read them from the paths in the repeat
// message.
type MQTTListener struct {
	pub    Publisher
	qos    byte
	topics mqtt.Topics
	logger Logger
}

var _ Listener = (*MQTTListener)(nil)

// NewMQTTListener creates a listener publishing with the given QoS.
// logger may be nil.
func NewMQTTListener(pub Publisher, qos byte, logger Logger) *MQTTListener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTListener{pub: pub, qos: qos, logger: logger}
}

// ActiveMessage is published on nmrlab/run/active.
type ActiveMessage struct {
	Index   int            `json:"index"`
	Type    string         `json:"type"`
	Label   string         `json:"label"`
	Command command.Record `json:"command"`
}

// RepeatMessage is published on nmrlab/run/repeat.
type RepeatMessage struct {
	RunID       string  `json:"run_id"`
	Index       int     `json:"index"`
	Sequence    string  `json:"sequence"`
	Repeat      int     `json:"repeat"`
	Repeats     int     `json:"repeats"`
	Averaged    int     `json:"averaged"`
	Samples     int     `json:"samples"`
	RMSA        float64 `json:"rms_a"`
	RMSB        float64 `json:"rms_b"`
	RawPath     string  `json:"raw_path,omitempty"`
	AveragePath string  `json:"average_path,omitempty"`
}

// ConditionsMessage is published on nmrlab/run/conditions.
type ConditionsMessage struct {
	RunID       string    `json:"run_id"`
	Sequence    string    `json:"sequence"`
	Temperature float64   `json:"temperature_k"`
	Field       float64   `json:"field_oe"`
	At          time.Time `json:"at"`
}

// CompleteMessage is published, retained, on nmrlab/run/complete.
type CompleteMessage struct {
	RunID     string `json:"run_id,omitempty"`
	Code      int    `json:"code"`
	Status    string `json:"status"`
	LastIndex int    `json:"last_index"`
	Dir       string `json:"dir,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ActiveIndex implements Listener.
func (l *MQTTListener) ActiveIndex(index int, cmd command.Command) {
	l.publish(l.topics.RunActive(), ActiveMessage{
		Index:   index,
		Type:    cmd.Kind().String(),
		Label:   cmd.Label(),
		Command: command.RecordOf(cmd),
	}, false)
}

// Repeat implements Listener.
func (l *MQTTListener) Repeat(d RepeatData) {
	l.publish(l.topics.RunRepeat(), RepeatMessage{
		RunID:       d.RunID,
		Index:       d.Index,
		Sequence:    d.Sequence,
		Repeat:      d.Repeat,
		Repeats:     d.Repeats,
		Averaged:    d.Count,
		Samples:     len(d.A),
		RMSA:        RMS(d.A),
		RMSB:        RMS(d.B),
		RawPath:     d.RawPath,
		AveragePath: d.AveragePath,
	}, false)
}

// Conditions implements Listener.
func (l *MQTTListener) Conditions(c Conditions) {
	l.publish(l.topics.RunConditions(), ConditionsMessage{
		RunID:       c.RunID,
		Sequence:    c.Tag,
		Temperature: c.Temperature,
		Field:       c.Field,
		At:          c.At.UTC(),
	}, false)
}

// Complete implements Listener.
func (l *MQTTListener) Complete(c Completion) {
	msg := CompleteMessage{
		RunID:     c.RunID,
		Code:      int(c.Code),
		Status:    c.Code.String(),
		LastIndex: c.LastIndex,
		Dir:       c.Dir,
	}
	if c.Err != nil {
		msg.Error = c.Err.Error()
	}
	l.publish(l.topics.RunComplete(), msg, true)
}

func (l *MQTTListener) publish(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		l.logger.Error("encoding MQTT payload", "topic", topic, "error", err)
		return
	}
	if err := l.pub.Publish(topic, payload, l.qos, retained); err != nil {
		l.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}
