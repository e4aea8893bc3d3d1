package notifier

import (
	"fmt"
	"strings"
)

// Carrier identifies the mobile network a message is routed through.
type Carrier string

const (
	CarrierMTN       Carrier = "mtn"
	CarrierVodacom   Carrier = "vodacom"
	CarrierAirtel    Carrier = "airtel"
	CarrierSafaricom Carrier = "safaricom"
	CarrierOrange    Carrier = "orange"
)

// Carriers lists the supported networks.
func Carriers() []Carrier {
	return []Carrier{CarrierMTN, CarrierVodacom, CarrierAirtel, CarrierSafaricom, CarrierOrange}
}

// ParseCarrier accepts the carrier code or its display name.
func ParseCarrier(raw string) (Carrier, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "mtn":
		return CarrierMTN, nil
	case "vodacom":
		return CarrierVodacom, nil
	case "airtel":
		return CarrierAirtel, nil
	case "safaricom", "m-pesa", "mpesa", "safaricom (m-pesa)":
		return CarrierSafaricom, nil
	case "orange", "orange money":
		return CarrierOrange, nil
	default:
		return "", fmt.Errorf("notifier: unknown carrier %q", raw)
	}
}

// String returns the display name used in audit lines.
func (c Carrier) String() string {
	switch c {
	case CarrierMTN:
		return "MTN"
	case CarrierVodacom:
		return "Vodacom"
	case CarrierAirtel:
		return "Airtel"
	case CarrierSafaricom:
		return "Safaricom (M-Pesa)"
	case CarrierOrange:
		return "Orange Money"
	default:
		return string(c)
	}
}
