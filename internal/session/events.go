package session

// Events carries the callbacks the orchestrator fires toward its caller
// (the excluded UI layer). Any callback may be nil.
type Events struct {
	OnOutputLine       func(line string)
	OnConnectionStatus func(status ConnectionStatus)
	OnPreviewURL       func(url string)
}

func (e Events) EmitOutput(line string) {
	if e.OnOutputLine != nil {
		e.OnOutputLine(line)
	}
}

func (e Events) EmitStatus(status ConnectionStatus) {
	if e.OnConnectionStatus != nil {
		e.OnConnectionStatus(status)
	}
}

func (e Events) EmitPreviewURL(url string) {
	if e.OnPreviewURL != nil {
		e.OnPreviewURL(url)
	}
}
