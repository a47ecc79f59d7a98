package proxy

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"mailpay/internal/model"
)

const registrarABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"internalType": "string", "name": "name", "type": "string"},
          {"internalType": "address", "name": "nameOwner", "type": "address"},
          {"internalType": "bool", "name": "setAsPrimaryName", "type": "bool"},
          {"internalType": "address", "name": "referrer", "type": "address"},
          {"internalType": "bytes32", "name": "discountKey", "type": "bytes32"},
          {"internalType": "bytes", "name": "discountClaimProof", "type": "bytes"},
          {"internalType": "uint256", "name": "nonce", "type": "uint256"},
          {"internalType": "uint256", "name": "deadline", "type": "uint256"},
          {"internalType": "string[]", "name": "attributes", "type": "string[]"},
          {"internalType": "address", "name": "paymentToken", "type": "address"}
        ],
        "internalType": "struct RegistrarController.RegisterRequest",
        "name": "request",
        "type": "tuple"
      },
      {"internalType": "bytes", "name": "signature", "type": "bytes"}
    ],
    "name": "register",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var (
	registrarABIOnce sync.Once
	registrarABI     abi.ABI
	registrarABIErr  error
)

func loadRegistrarABI() (abi.ABI, error) {
	registrarABIOnce.Do(func() {
		registrarABI, registrarABIErr = abi.JSON(strings.NewReader(registrarABIJSON))
	})
	return registrarABI, registrarABIErr
}

// registerRequest mirrors the registrar's tuple argument; field names must
// match the ABI component names for go-ethereum tuple packing.
type registerRequest struct {
	Name               string
	NameOwner          common.Address
	SetAsPrimaryName   bool
	Referrer           common.Address
	DiscountKey        [32]byte
	DiscountClaimProof []byte
	Nonce              *big.Int
	Deadline           *big.Int
	Attributes         []string
	PaymentToken       common.Address
}

// packRegisterCall builds the calldata for the registrar's payable register
// function from a voucher.
func packRegisterCall(v *model.PurchaseVoucher, referrer common.Address) ([]byte, error) {
	parsed, err := loadRegistrarABI()
	if err != nil {
		return nil, fmt.Errorf("parse registrar abi: %w", err)
	}
	req := registerRequest{
		Name:               v.Name,
		NameOwner:          common.HexToAddress(v.Owner),
		SetAsPrimaryName:   false,
		Referrer:           referrer,
		DiscountKey:        v.DiscountKey,
		DiscountClaimProof: v.DiscountProof,
		Nonce:              v.Nonce,
		Deadline:           new(big.Int).SetInt64(v.Deadline),
		Attributes:         []string{},
		PaymentToken:       common.Address{},
	}
	data, err := parsed.Pack("register", req, v.Signature)
	if err != nil {
		return nil, fmt.Errorf("pack register call: %w", err)
	}
	return data, nil
}
