package analytics

import "math"

// FeeSchedule parameterises the venue's fee rounding. Amounts are in minor
// currency units.
type FeeSchedule struct {
	SteamPct     float64
	PublisherPct float64
	SteamMinimum int64
	SteamBase    int64
}

// DefaultFeeSchedule is the venue's published default: 5% platform fee with
// a 1-cent floor and 10% publisher fee.
var DefaultFeeSchedule = FeeSchedule{
	SteamPct:     0.05,
	PublisherPct: 0.10,
	SteamMinimum: 1,
	SteamBase:    0,
}

// maxFeeIterations bounds the search around the initial estimate.
const maxFeeIterations = 10

// Fees splits a buyer-paid gross amount. Received + SteamFee + PublisherFee
// always equals Gross.
type Fees struct {
	Gross        int64 `json:"gross"`
	Received     int64 `json:"net_received"`
	SteamFee     int64 `json:"steam_fee"`
	PublisherFee int64 `json:"publisher_fee"`
}

// Total returns the sum of both fee components.
func (f Fees) Total() int64 { return f.SteamFee + f.PublisherFee }

// CalculateFees splits gross using DefaultFeeSchedule.
func CalculateFees(gross int64) Fees {
	return CalculateFeesWith(gross, DefaultFeeSchedule)
}

// CalculateFeesWith finds the seller-received amount whose fees add up to
// gross, reproducing the venue's own estimate-and-search. For grosses
// below the minimum fees the received amount goes negative.
func CalculateFeesWith(gross int64, fs FeeSchedule) Fees {
	est := int64(float64(gross-fs.SteamBase) / (fs.SteamPct + fs.PublisherPct + 1))
	undershot := false

	f := amountForReceived(est, fs)
	for i := 0; f.Gross != gross && i < maxFeeIterations; i++ {
		if f.Gross > gross {
			if undershot {
				f = amountForReceived(est-1, fs)
				f.SteamFee += gross - f.Gross
				f.Gross = gross
				break
			}
			est--
		} else {
			undershot = true
			est++
		}
		f = amountForReceived(est, fs)
	}

	if f.Gross != gross {
		// Search exhausted without an exact hit; the platform fee absorbs
		// the difference. The venue's own routine stops here with a mismatch;
		// this departs from it on purpose so received + fees == gross holds.
		f.SteamFee += gross - f.Gross
		f.Gross = gross
	}
	return f
}

func amountForReceived(received int64, fs FeeSchedule) Fees {
	r := float64(received)
	steam := int64(math.Floor(math.Max(r*fs.SteamPct, float64(fs.SteamMinimum)) + float64(fs.SteamBase)))

	var publisher int64
	if fs.PublisherPct > 0 {
		publisher = int64(math.Floor(math.Max(r*fs.PublisherPct, 1)))
	}
	return Fees{
		Gross:        received + steam + publisher,
		Received:     received,
		SteamFee:     steam,
		PublisherFee: publisher,
	}
}
