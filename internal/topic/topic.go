package topic

import (
	"errors"
	"regexp"
	"strings"

	"github.com/chattingus/realtime/internal/ierr"
)

// Key identifies a broadcast scope. Three families exist:
// chat:{roomId}, live:{streamId} and notify:{userId}.
type Key string

type Kind string

const (
	KindChat   Kind = "chat"
	KindLive   Kind = "live"
	KindNotify Kind = "notify"
)

func Chat(roomID string) Key {
	return Key("chat:" + roomID)
}

func Live(streamID string) Key {
	return Key("live:" + streamID)
}

func Notify(userID string) Key {
	return Key("notify:" + userID)
}

func (k Key) Kind() Kind {
	kind, _, _ := strings.Cut(string(k), ":")
	return Kind(kind)
}

// ID returns the scope identifier after the family prefix.
func (k Key) ID() string {
	_, id, _ := strings.Cut(string(k), ":")
	return id
}

func (k Key) String() string {
	return string(k)
}

var idRegex = regexp.MustCompile(`^[\w-]+$`)

type Validator struct {
	idRegex *regexp.Regexp
}

func NewValidator() *Validator {
	return &Validator{
		idRegex: idRegex,
	}
}

func (v *Validator) Validate(key Key) error {
	kind, id, ok := strings.Cut(string(key), ":")

	if !ok || !v.idRegex.MatchString(id) {
		return ierr.New(ierr.ErrorCodeInvalidFrame, errors.New("invalid topic key"))
	}

	switch Kind(kind) {
	case KindChat, KindLive, KindNotify:
		return nil
	default:
		return ierr.New(ierr.ErrorCodeInvalidFrame, errors.New("unknown topic family: "+kind))
	}
}
