package topology

import "fmt"

// 产品默认拓扑中的节点
const (
	Background       NodeName = "background"
	ContentScript    NodeName = "contentScript"
	PageScript       NodeName = "pageScript"
	IFrame           NodeName = "iframe"
	HUD              NodeName = "hud"
	Dashboard        NodeName = "dashboard"
	HostedBackground NodeName = "hostedBackground"
	App              NodeName = "app"
)

// DefaultOrigins 默认拓扑需要的 origin
type DefaultOrigins struct {
	// ExtensionID 扩展 ID，扩展页面的 origin 为 chrome-extension://<ID>
	ExtensionID string

	// App 托管 Web 应用的 origin
	App string
}

// ExtensionOrigin 扩展页面的 origin
func (o DefaultOrigins) ExtensionOrigin() string {
	return fmt.Sprintf("chrome-extension://%s", o.ExtensionID)
}

// DefaultTopology 产品默认拓扑
//
//	pageScript ─┐            ┌─ dashboard
//	iframe ─────┼ contentScript ─ background ─ hostedBackground ─ app
//	hud ────────┘
//
// iframe 与 hud 是嵌在宿主页面里的扩展页面，无法得知宿主页面的 origin，
// 因此它们一侧的边不做校验。contentScript 一侧校验 iframe 的入站帧并固定
// 出站 origin；对 hud 只固定出站 origin，不校验入站帧。
func DefaultTopology(o DefaultOrigins) (*Topology, error) {
	ext := o.ExtensionOrigin()

	runtimeSecure := Edge{Strategy: StrategyRuntime, SecureInbound: true, SecureOutbound: true}
	windowSecure := Edge{Strategy: StrategyWindow, SecureInbound: true, SecureOutbound: true, WaitForReady: true}

	return NewBuilder().
		SecureOrigins(ext, o.App).
		Node(Background, Dashboard, HostedBackground, App).
		InstancedNode(ContentScript, PageScript, IFrame, HUD).
		Link(Background, ContentScript, runtimeSecure, ext, ext).
		Link(ContentScript, PageScript, windowSecure, OriginSelf, OriginSelf).
		// 扩展页面一侧无法得知宿主页面 origin
		Edge(Edge{From: ContentScript, To: IFrame, Strategy: StrategyWindow,
			SecureInbound: true, SecureOutbound: true, WaitForReady: true, PeerOrigin: ext}).
		Edge(Edge{From: IFrame, To: ContentScript, Strategy: StrategyWindow, WaitForReady: true}).
		Edge(Edge{From: ContentScript, To: HUD, Strategy: StrategyWindow,
			SecureOutbound: true, PeerOrigin: ext}).
		Edge(Edge{From: HUD, To: ContentScript, Strategy: StrategyWindow}).
		Link(Background, Dashboard, runtimeSecure, ext, ext).
		Link(Background, HostedBackground, runtimeSecure, o.App, ext).
		Link(HostedBackground, App, windowSecure, OriginSelf, OriginSelf).
		Build()
}
