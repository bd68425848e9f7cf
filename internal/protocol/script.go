package protocol

import _ "embed"

// ClientScript is the reload client served at ScriptPath. Both the builtin
// engine and generated server sources carry this exact body.
//
//go:embed assets/lr-client.js
var ClientScript []byte
