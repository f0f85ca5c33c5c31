package sip

import "fmt"

// TxKey identifies a transaction inside the transaction table.
type TxKey string

func (key TxKey) String() string {
	return string(key)
}

// DialogID is the (Call-ID, From tag, To tag) triple of the exchange that
// created the dialog, written in the direction of the initial request.
type DialogID struct {
	CallID  string
	FromTag string
	ToTag   string
}

func (id DialogID) String() string {
	return fmt.Sprintf("%s__%s__%s", id.CallID, id.FromTag, id.ToTag)
}

// Swap returns the id as seen from the opposite side of the dialog.
func (id DialogID) Swap() DialogID {
	return DialogID{CallID: id.CallID, FromTag: id.ToTag, ToTag: id.FromTag}
}

// Complete reports whether all three parts are present.
func (id DialogID) Complete() bool {
	return id.CallID != "" && id.FromTag != "" && id.ToTag != ""
}

// MakeDialogID reads the triple from a message.
func MakeDialogID(msg Message) DialogID {
	return DialogID{CallID: msg.CallID(), FromTag: msg.FromTag(), ToTag: msg.ToTag()}
}
