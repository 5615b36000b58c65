package services

import (
	"net/http"
)

// Bank is a payout destination supported by the payout provider.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Banks agencies can receive withdrawals into, keyed by provider bank code.
var payoutBanks = []Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "023", Name: "Citibank"},
	{Code: "050", Name: "Ecobank"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank"},
	{Code: "214", Name: "FCMB"},
	{Code: "058", Name: "GTBank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "221", Name: "Stanbic IBTC"},
	{Code: "068", Name: "Standard Chartered"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "032", Name: "Union Bank"},
	{Code: "033", Name: "UBA"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "50211", Name: "Kuda"},
	{Code: "090405", Name: "Moniepoint"},
	{Code: "100002", Name: "Paga"},
}

type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

// GetAllBanks lists supported payout banks
// @Summary List payout banks
// @Description Bank codes accepted in withdrawal payment details
// @Tags banks
// @Produce json
// @Success 200 {object} APIResponse
// @Router /banks [get]
func (s *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	SendSuccessResponse(w, http.StatusOK, payoutBanks, "")
}
