package registry

import "github.com/shopspring/decimal"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultCurrencies are the currencies supported out of the box. Rates are static.
func DefaultCurrencies() []Currency {
	return []Currency{
		{Code: "USD", Symbol: "$", Name: "US Dollar", RateToReference: d("1")},
		{Code: "EUR", Symbol: "€", Name: "Euro", RateToReference: d("1.08")},
		{Code: "GBP", Symbol: "£", Name: "British Pound", RateToReference: d("1.27")},
		{Code: "KES", Symbol: "KSh", Name: "Kenyan Shilling", Spaced: true, RateToReference: d("0.0077")},
		{Code: "UGX", Symbol: "USh", Name: "Ugandan Shilling", Spaced: true, RateToReference: d("0.00027")},
		{Code: "TZS", Symbol: "TSh", Name: "Tanzanian Shilling", Spaced: true, RateToReference: d("0.00039")},
		{Code: "RWF", Symbol: "FRw", Name: "Rwandan Franc", Spaced: true, RateToReference: d("0.00075")},
		{Code: "GHS", Symbol: "GH₵", Name: "Ghanaian Cedi", RateToReference: d("0.065")},
		{Code: "NGN", Symbol: "₦", Name: "Nigerian Naira", RateToReference: d("0.00065")},
		{Code: "ZAR", Symbol: "R", Name: "South African Rand", RateToReference: d("0.055")},
	}
}

// DefaultProviders are the mobile-money networks farms pay through.
func DefaultProviders() []Provider {
	return []Provider{
		{
			ID: "mpesa", Name: "M-Pesa", Country: "KE",
			Currencies: []string{"KES", "TZS"},
			MinAmount:  d("10"), MaxAmount: d("150000"),
			ProcessingTime: "Instant",
			PhonePattern:   `^(?:\+?254|0)?[17]\d{8}$`,
		},
		{
			ID: "mtn", Name: "MTN Mobile Money", Country: "UG",
			Currencies: []string{"UGX", "GHS", "RWF"},
			MinAmount:  d("500"), MaxAmount: d("5000000"),
			ProcessingTime: "1-2 minutes",
			PhonePattern:   `^(?:\+?256|0)?7[678]\d{7}$`,
		},
		{
			ID: "airtel", Name: "Airtel Money", Country: "UG",
			Currencies: []string{"UGX", "KES", "TZS", "RWF"},
			MinAmount:  d("100"), MaxAmount: d("4000000"),
			ProcessingTime: "1-3 minutes",
			PhonePattern:   `^(?:\+?256|0)?7[05]\d{7}$`,
		},
		{
			ID: "tigopesa", Name: "Tigo Pesa", Country: "TZ",
			Currencies: []string{"TZS"},
			MinAmount:  d("1000"), MaxAmount: d("5000000"),
			ProcessingTime: "Instant",
			PhonePattern:   `^(?:\+?255|0)?(?:65|67|71)\d{7}$`,
		},
	}
}

// DefaultFees is the fee schedule: the platform fee plus one rate per provider.
func DefaultFees() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		FeePlatform: d("0.015"),
		"mpesa":     d("0.01"),
		"mtn":       d("0.01"),
		"airtel":    d("0.0125"),
		"tigopesa":  d("0.015"),
	}
}

// DefaultLimits caps a single transaction at 10,000 USD and a wallet at 50,000 USD.
func DefaultLimits() Limits {
	return Limits{
		MaxTransaction:   d("10000"),
		MaxWalletBalance: d("50000"),
	}
}

// Default builds the registry from the defaults above.
func Default() *Registry {
	r, err := New(DefaultCurrencies(), DefaultProviders(), DefaultFees(), DefaultLimits())
	if err != nil {
		panic(err)
	}
	return r
}
