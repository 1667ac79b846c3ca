package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/amf"
	"github.com/torresjeff/rtmp-publisher/amf/amf0"
)

// Command is a remote procedure call or its reply: the command name, a transaction ID, the command object (null
// when absent) and any number of arguments. AMF3 commands use the same AMF0 body after a format selector byte.
type Command struct {
	AMF3          bool
	Name          string
	TransactionID int
	CommandObject amf0.Value
	Arguments     []amf0.Value
}

func (m *Command) Type() MessageType {
	if m.AMF3 {
		return MessageTypeCommandAMF3
	}
	return MessageTypeCommandAMF0
}

func (m *Command) MarshalRTMPMessage() ([]byte, error) {
	commandObject := m.CommandObject
	if commandObject == nil {
		commandObject = amf0.Null{}
	}
	values := make([]amf0.Value, 0, 3+len(m.Arguments))
	values = append(values, amf0.String(m.Name), amf0.Number(m.TransactionID), commandObject)
	values = append(values, m.Arguments...)
	return amf.Encode(objectEncoding(m.AMF3), values...)
}

func (m *Command) UnmarshalRTMPMessage(payload []byte) error {
	d, err := amf.NewDecoder(payload, objectEncoding(m.AMF3))
	if err != nil {
		return err
	}
	name, err := d.Decode()
	if err != nil {
		return errors.Wrap(err, "command name")
	}
	s, ok := name.(amf0.String)
	if !ok {
		return errors.Errorf("command name is %T, expected a string", name)
	}
	m.Name = string(s)
	transactionID, err := d.Decode()
	if err != nil {
		return errors.Wrapf(err, "%v transaction id", m.Name)
	}
	n, ok := transactionID.(amf0.Number)
	if !ok {
		return errors.Errorf("%v transaction id is %T, expected a number", m.Name, transactionID)
	}
	m.TransactionID = int(n)
	// Some servers end the command after the transaction ID
	if d.Len() == 0 {
		return nil
	}
	if m.CommandObject, err = d.Decode(); err != nil {
		return errors.Wrapf(err, "%v command object", m.Name)
	}
	m.Arguments = nil
	for d.Len() > 0 {
		v, err := d.Decode()
		if err != nil {
			return errors.Wrapf(err, "%v argument %d", m.Name, len(m.Arguments))
		}
		m.Arguments = append(m.Arguments, v)
	}
	return nil
}

// Data carries a handler name followed by its arguments, eg. @setDataFrame("onMetaData", metadata).
type Data struct {
	AMF3      bool
	Handler   string
	Arguments []amf0.Value
}

func (m *Data) Type() MessageType {
	if m.AMF3 {
		return MessageTypeDataAMF3
	}
	return MessageTypeDataAMF0
}

func (m *Data) MarshalRTMPMessage() ([]byte, error) {
	values := make([]amf0.Value, 0, 1+len(m.Arguments))
	values = append(values, amf0.String(m.Handler))
	values = append(values, m.Arguments...)
	return amf.Encode(objectEncoding(m.AMF3), values...)
}

func (m *Data) UnmarshalRTMPMessage(payload []byte) error {
	d, err := amf.NewDecoder(payload, objectEncoding(m.AMF3))
	if err != nil {
		return err
	}
	handler, err := d.Decode()
	if err != nil {
		return errors.Wrap(err, "data handler name")
	}
	s, ok := handler.(amf0.String)
	if !ok {
		return errors.Errorf("data handler name is %T, expected a string", handler)
	}
	m.Handler = string(s)
	m.Arguments = nil
	for d.Len() > 0 {
		v, err := d.Decode()
		if err != nil {
			return errors.Wrapf(err, "%v argument %d", m.Handler, len(m.Arguments))
		}
		m.Arguments = append(m.Arguments, v)
	}
	return nil
}

func objectEncoding(amf3 bool) uint8 {
	if amf3 {
		return amf.AMFVersion3
	}
	return amf.AMFVersion0
}
