package engine

import (
	"bytes"

	"github.com/livepreview/previewd/internal/protocol"
)

var scriptTag = []byte(`<script src="` + protocol.ScriptPath + `"></script>`)

// InjectScript inserts the reload-client script tag into an HTML document,
// preferring a spot just before </head>, then </body>, then the end of the
// document. Injection is idempotent: a document already referencing the
// script path is returned unchanged.
func InjectScript(html []byte) []byte {
	if bytes.Contains(html, []byte(protocol.ScriptPath)) {
		return html
	}

	for _, closer := range [][]byte{[]byte("</head>"), []byte("</HEAD>"), []byte("</body>"), []byte("</BODY>")} {
		if idx := bytes.Index(html, closer); idx >= 0 {
			out := make([]byte, 0, len(html)+len(scriptTag)+1)
			out = append(out, html[:idx]...)
			out = append(out, scriptTag...)
			out = append(out, '\n')
			out = append(out, html[idx:]...)
			return out
		}
	}

	out := make([]byte, 0, len(html)+len(scriptTag)+1)
	out = append(out, html...)
	out = append(out, '\n')
	out = append(out, scriptTag...)
	return out
}
