package domain

import "strings"

// StreamRequest is what a user asks for: pull SourceURL, push to DestinationURL+StreamKey.
type StreamRequest struct {
	SourceURL      string `json:"source_url"`
	DestinationURL string `json:"destination_url"`
	StreamKey      string `json:"stream_key"`
}

// PublishURL joins destination and key verbatim. No separator is inserted.
func (r StreamRequest) PublishURL() string {
	return r.DestinationURL + r.StreamKey
}

// RelayProfile holds the fixed parts of the relay command line.
type RelayProfile struct {
	Binary     string
	VideoCodec string
	AudioCodec string
	Format     string
}

// CommandLine is a fully built relay invocation.
type CommandLine struct {
	Binary string
	Args   []string
}

func (c CommandLine) String() string {
	return strings.Join(append([]string{c.Binary}, c.Args...), " ")
}

// Redacted renders the command line with the publish target replaced, for logs.
func (c CommandLine) Redacted() string {
	parts := append([]string{c.Binary}, c.Args...)
	if len(parts) > 1 {
		parts[len(parts)-1] = "<redacted>"
	}
	return strings.Join(parts, " ")
}
