package relay

import "encoding/json"

// targetInfo is the CDP TargetInfo shape for the one page the extension
// exposes.
type targetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

// browserVersion is the Browser.getVersion result. Defaults are used until
// the extension supplies its own values in the helo frame.
type browserVersion struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
	JSVersion       string `json:"jsVersion"`
}

func defaultBrowserVersion() browserVersion {
	return browserVersion{
		ProtocolVersion: "1.3",
		Product:         "Chrome/browserwright-relay",
		Revision:        "0",
		UserAgent:       "browserwright-relay",
		JSVersion:       "V8",
	}
}

// heloParams is the optional first frame an extension may send to seed
// Browser.getVersion before announcing its target.
type heloParams struct {
	Product   string `json:"product"`
	UserAgent string `json:"userAgent"`
	Revision  string `json:"revision"`
}

// attachedToTargetParams is the subset of Target.attachedToTarget the relay
// inspects when the extension announces or re-announces its page.
type attachedToTargetParams struct {
	SessionID          string          `json:"sessionId"`
	TargetInfo         json.RawMessage `json:"targetInfo"`
	WaitingForDebugger bool            `json:"waitingForDebugger"`
}

// frameNavigatedParams is the subset of Page.frameNavigated used to refresh
// the synthetic target's url.
type frameNavigatedParams struct {
	Frame struct {
		URL      string `json:"url"`
		ParentID string `json:"parentId"`
	} `json:"frame"`
}
