package stripeprovider

import "github.com/shopspring/decimal"

// centFactor converts a decimal major-unit amount into minor units.
var centFactor = decimal.NewFromInt(100)
