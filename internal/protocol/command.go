package protocol

import (
	"crypto/rand"
	"strings"
)

// Command names understood by SSCMA firmware.
const (
	CmdID         = "ID"
	CmdName       = "NAME"
	CmdVersion    = "VER"
	CmdStatus     = "STAT"
	CmdBreak      = "BREAK"
	CmdReset      = "RST"
	CmdWiFi       = "WIFI"
	CmdMQTTServer = "MQTTSERVER"
	CmdMQTTPubSub = "MQTTPUBSUB"
	CmdInvoke     = "INVOKE"
	CmdSample     = "SAMPLE"
	CmdInfo       = "INFO"
	CmdTScore     = "TSCORE"
	CmdTIoU       = "TIOU"
	CmdAlgos      = "ALGOS"
	CmdModels     = "MODELS"
	CmdModel      = "MODEL"
	CmdSensors    = "SENSORS"
	CmdAction     = "ACTION"
	CmdLED        = "LED"
)

// Event names emitted by firmware. Matched by substring.
const (
	EventInvoke     = "INVOKE"
	EventSample     = "SAMPLE"
	EventWiFi       = "WIFI"
	EventMQTT       = "MQTT"
	EventSupervisor = "SUPERVISOR"
)

const (
	commandPrefix = "AT+"
	lineEnding    = "\r\n"
	tagLength     = 6
	tagAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// tagByteLimit is the largest multiple of len(tagAlphabet) below 256.
	// Bytes at or above it are redrawn so every character is equally likely.
	tagByteLimit = 256 - 256%len(tagAlphabet)
)

// NewTag returns a random 6 character token from [A-Z0-9].
func NewTag() string {
	tag := make([]byte, 0, tagLength)
	buf := make([]byte, 2*tagLength)
	for len(tag) < tagLength {
		rand.Read(buf) //nolint:errcheck // crypto/rand.Read never returns an error
		for _, b := range buf {
			if int(b) >= tagByteLimit {
				continue
			}
			tag = append(tag, tagAlphabet[int(b)%len(tagAlphabet)])
			if len(tag) == tagLength {
				break
			}
		}
	}
	return string(tag)
}

func withTag(cmd string, tagged bool) string {
	if tagged {
		return commandPrefix + NewTag() + "@" + cmd
	}
	return commandPrefix + cmd
}

// SetCommand builds "AT+[TAG@]CMD=VALUE".
func SetCommand(cmd, value string, tagged bool) string {
	return withTag(cmd, tagged) + "=" + value
}

// GetCommand builds "AT+[TAG@]CMD?".
func GetCommand(cmd string, tagged bool) string {
	return withTag(cmd, tagged) + "?"
}

// ExecCommand builds "AT+[TAG@]CMD".
func ExecCommand(cmd string, tagged bool) string {
	return withTag(cmd, tagged)
}

// ExpectedName returns the name the device echoes for line: everything
// after "AT+" up to the first '='.
func ExpectedName(line string) string {
	name := strings.TrimSuffix(line, lineEnding)
	name = strings.TrimPrefix(name, commandPrefix)
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	return name
}

// Quote wraps s in double quotes for use in a set value.
// Firmware does not support escapes, so embedded quotes are stripped.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}
