package eventbus

import "testing"

// TestEventNames locks down every wire name as a public contract. Renaming
// a tag here is a breaking change for every transport that serializes it.
func TestEventNames(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{ServerStarted{}, "server:started"},
		{ServerStopping{}, "server:stopping"},
		{ServerStopped{}, "server:stopped"},
		{ServerError{}, "server:error"},
		{ServerSnapshot{}, "server:snapshot"},
		{ServerHealthChanged{}, "server:health_changed"},
		{DownloadStarted{}, "download:started"},
		{DownloadProgress{}, "download:progress"},
		{DownloadCompleted{}, "download:completed"},
		{DownloadFailed{}, "download:failed"},
		{DownloadCancelled{}, "download:cancelled"},
		{ModelAdded{}, "model:added"},
		{ModelRemoved{}, "model:removed"},
		{ModelUpdated{}, "model:updated"},
		{McpAdded{}, "mcp:added"},
		{McpRemoved{}, "mcp:removed"},
		{McpStarted{}, "mcp:started"},
		{McpStopped{}, "mcp:stopped"},
		{McpError{}, "mcp:error"},
		{VoiceStateChanged{}, "voice:state-changed"},
		{VoiceTranscript{}, "voice:transcript"},
		{VoiceSpeakingStarted{}, "voice:speaking-started"},
		{VoiceSpeakingFinished{}, "voice:speaking-finished"},
		{VoiceAudioLevel{}, "voice:audio-level"},
		{VoiceError{}, "voice:error"},
		{VoiceModelDownloadProgress{}, "voice:model-download-progress"},
		{VerificationProgress{}, "verification:progress"},
		{VerificationComplete{}, "verification:complete"},
	}
	for _, c := range cases {
		if got := c.ev.Name(); got != c.want {
			t.Errorf("%T.Name() = %q, want %q", c.ev, got, c.want)
		}
	}
}
