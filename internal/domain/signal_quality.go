package domain

const (
	SNRGood  = float64(-7)
	SNRFair  = float64(-15)
	RSSIGood = -115
	RSSIFair = -126
)

type SignalQuality int

const (
	SignalUnknown SignalQuality = iota
	SignalBad
	SignalFair
	SignalGood
)

func (q SignalQuality) String() string {
	switch q {
	case SignalGood:
		return "good"
	case SignalFair:
		return "fair"
	case SignalBad:
		return "bad"
	default:
		return "unknown"
	}
}

// DetermineSignalQuality thresholds match the Meshtastic Android signal
// indicator.
func DetermineSignalQuality(snr float64, rssi int) SignalQuality {
	if rssi == 0 {
		return SignalUnknown
	}
	if snr >= SNRGood && rssi >= RSSIGood {
		return SignalGood
	}
	if snr >= SNRFair && rssi >= RSSIFair {
		return SignalFair
	}
	return SignalBad
}

// NodeSignalQuality derives quality from the node's last observed metrics.
func NodeSignalQuality(n Node) SignalQuality {
	if n.SNR == nil || n.RSSI == nil {
		return SignalUnknown
	}

	return DetermineSignalQuality(*n.SNR, *n.RSSI)
}
