// Package delivery decides whether parcels fit the mailboxes found by the
// still analysis and summarises a simulated route.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	iface "PostkasseVision/interface"
	"PostkasseVision/monitor"
)

// Volume is a parcel size class. Its value is the smallest capacity rank
// that holds it.
type Volume int

const (
	VolumeS Volume = iota + 1
	VolumeM
	VolumeL
)

func (v Volume) String() string {
	switch v {
	case VolumeS:
		return "S"
	case VolumeM:
		return "M"
	case VolumeL:
		return "L"
	default:
		return fmt.Sprintf("Volume(%d)", int(v))
	}
}

func ParseVolume(s string) (Volume, error) {
	switch s {
	case "S":
		return VolumeS, nil
	case "M":
		return VolumeM, nil
	case "L":
		return VolumeL, nil
	}
	return 0, fmt.Errorf("unknown volume class %q", s)
}

func (v Volume) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Volume) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseVolume(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

type Parcel struct {
	ID        string `json:"id"`
	Volume    Volume `json:"volum_klasse"`
	MailboxID string `json:"mottaker_postkasse_id"`
}

type Mailbox struct {
	ID              string    `json:"id"`
	StairwellID     string    `json:"oppgang_id"`
	KapasitetKlasse string    `json:"kapasitet_klasse"`
	VerifiedAt      time.Time `json:"sist_verifisert"`
}

type Outcome string

const (
	Delivered      Outcome = "LEVERT_I_POSTKASSE"
	PickupPoint    Outcome = "HENTEKONTOR"
	UnknownMailbox Outcome = "UKJENT_POSTKASSE"
)

// CapacityUnknown is the capacity shown for parcels whose mailbox is not
// known.
const CapacityUnknown = "N/A"

type Decision struct {
	ParcelID  string  `json:"pakke_id"`
	Volume    Volume  `json:"volum"`
	MailboxID string  `json:"destinasjon_pk"`
	Capacity  string  `json:"pk_kapasitet"`
	Outcome   Outcome `json:"utfall"`
}

type RouteResult struct {
	Parcels     int        `json:"antall_pakker"`
	Direct      int        `json:"direkte_i_postkasse"`
	PickupPoint int        `json:"til_hentekontor"`
	Log         []Decision `json:"logg"`
}

// CanDeliver reports whether p fits in mb. A mailbox of unknown class
// takes nothing.
func CanDeliver(mb Mailbox, p Parcel) bool {
	return iface.KapasitetRank(mb.KapasitetKlasse) >= int(p.Volume)
}

// SimulateRoute decides every parcel in order. Parcels addressed to an
// unknown mailbox go to the pickup point.
func SimulateRoute(parcels []Parcel, mailboxes []Mailbox) RouteResult {
	byID := make(map[string]Mailbox, len(mailboxes))
	for _, mb := range mailboxes {
		byID[mb.ID] = mb
	}

	res := RouteResult{Parcels: len(parcels), Log: make([]Decision, 0, len(parcels))}
	for _, p := range parcels {
		d := Decision{
			ParcelID:  p.ID,
			Volume:    p.Volume,
			MailboxID: p.MailboxID,
			Capacity:  CapacityUnknown,
		}
		mb, ok := byID[p.MailboxID]
		switch {
		case !ok:
			d.Outcome = UnknownMailbox
			res.PickupPoint++
		case CanDeliver(mb, p):
			d.Capacity = mb.KapasitetKlasse
			d.Outcome = Delivered
			res.Direct++
		default:
			d.Capacity = mb.KapasitetKlasse
			d.Outcome = PickupPoint
			res.PickupPoint++
		}
		monitor.DeliveryDecisions.WithLabelValues(string(d.Outcome)).Inc()
		res.Log = append(res.Log, d)
	}
	return res
}
