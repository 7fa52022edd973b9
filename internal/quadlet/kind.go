// Package quadlet parses quadlet unit files and exposes their
// structured directives.
package quadlet

// Kind identifies the type of a quadlet unit file. The set is closed:
// per-kind behavior is selected by switching on Kind, never by comparing
// extension strings at call sites.
type Kind int

// The six recognized quadlet unit kinds.
const (
	KindContainer Kind = iota
	KindPod
	KindNetwork
	KindVolume
	KindKube
	KindImage
)

var kindNames = map[Kind]string{
	KindContainer: "container",
	KindPod:       "pod",
	KindNetwork:   "network",
	KindVolume:    "volume",
	KindKube:      "kube",
	KindImage:     "image",
}

var kindByExt = map[string]Kind{
	"container": KindContainer,
	"pod":       KindPod,
	"network":   KindNetwork,
	"volume":    KindVolume,
	"kube":      KindKube,
	"image":     KindImage,
}

// String returns the kind name, which doubles as the file extension.
func (k Kind) String() string {
	return kindNames[k]
}

// Section returns the quadlet-specific section header for the kind.
func (k Kind) Section() string {
	switch k {
	case KindContainer:
		return "Container"
	case KindPod:
		return "Pod"
	case KindNetwork:
		return "Network"
	case KindVolume:
		return "Volume"
	case KindKube:
		return "Kube"
	case KindImage:
		return "Image"
	default:
		return ""
	}
}

// ParseKind maps a file extension (without the dot) to a Kind.
func ParseKind(ext string) (Kind, bool) {
	k, ok := kindByExt[ext]
	return k, ok
}

// ServiceName returns the systemd service name the quadlet generator
// produces for a unit. Containers map straight to name.service, other
// kinds get the kind appended.
func ServiceName(name string, kind Kind) string {
	switch kind {
	case KindContainer:
		return name + ".service"
	default:
		return name + "-" + kind.String() + ".service"
	}
}

// Runnable reports whether units of this kind host a workload that is
// explicitly started and stopped. Network, volume and image units are
// activated as dependencies instead.
func (k Kind) Runnable() bool {
	switch k {
	case KindContainer, KindPod, KindKube:
		return true
	default:
		return false
	}
}
