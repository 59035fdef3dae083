package domain

// Provider identifies an external payment network.
type Provider string

const (
	ProviderMPesa       Provider = "MPESA"
	ProviderMTNMoMo     Provider = "MTN_MOMO"
	ProviderOrangeMoney Provider = "ORANGE_MONEY"
	ProviderTelebirr    Provider = "TELEBIRR"
	ProviderStripe      Provider = "STRIPE"
	ProviderPaystack    Provider = "PAYSTACK"
	ProviderFlutterwave Provider = "FLUTTERWAVE"
	ProviderCard        Provider = "CARD"
)

var providerNames = map[Provider]string{
	ProviderMPesa:       "M-Pesa",
	ProviderMTNMoMo:     "MTN MoMo",
	ProviderOrangeMoney: "Orange Money",
	ProviderTelebirr:    "Telebirr",
	ProviderStripe:      "Stripe",
	ProviderPaystack:    "Paystack",
	ProviderFlutterwave: "Flutterwave",
	ProviderCard:        "Card",
}

// DisplayName is the human name used in provider error messages.
func (p Provider) DisplayName() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return string(p)
}

func (p Provider) IsValid() bool {
	_, ok := providerNames[p]
	return ok
}

// ProviderPtr returns a pointer to p, or nil for the empty provider.
func ProviderPtr(p Provider) *Provider {
	if p == "" {
		return nil
	}
	return &p
}
