package fipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Code is an identifier the vendor sends either as a JSON string or as a
// JSON number depending on the endpoint.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("code: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("code: %w", err)
	}
	*c = Code(n.String())
	return nil
}

func (c Code) String() string { return string(c) }

type referenceResponse struct {
	Codigo int    `json:"Codigo"`
	Mes    string `json:"Mes"`
}

// option is the {"Label", "Value"} pair used by the list endpoints.
type option struct {
	Label string `json:"Label"`
	Value Code   `json:"Value"`
}

type modelsResponse struct {
	Modelos []option `json:"Modelos"`
}

type priceResponse struct {
	Valor            string `json:"Valor"`
	Marca            string `json:"Marca"`
	Modelo           string `json:"Modelo"`
	AnoModelo        int    `json:"AnoModelo"`
	Combustivel      string `json:"Combustivel"`
	CodigoFipe       string `json:"CodigoFipe"`
	MesReferencia    string `json:"MesReferencia"`
	SiglaCombustivel string `json:"SiglaCombustivel"`
}

// vendorError is the body the vendor answers with, often under HTTP 200,
// when a parameter combination is unknown.
type vendorError struct {
	Codigo Code   `json:"codigo"`
	Erro   string `json:"erro"`
}
