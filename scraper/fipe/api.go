package fipe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"fipe-harvester/models"
	"fipe-harvester/services"
)

const (
	EndpointReferences = "ConsultarTabelaDeReferencia"
	EndpointBrands     = "ConsultarMarcas"
	EndpointModels     = "ConsultarModelos"
	EndpointModelYears = "ConsultarAnoModelo"
	EndpointPrice      = "ConsultarValorComTodosParametros"
)

func (c *Client) basePayload(referenceCode int) url.Values {
	v := url.Values{}
	v.Set("codigoTabelaReferencia", strconv.Itoa(referenceCode))
	v.Set("codigoTipoVeiculo", strconv.Itoa(c.vehicleType))
	return v
}

// References lists every reference period, newest first.
func (c *Client) References(ctx context.Context) ([]models.ReferencePeriod, error) {
	var resp []referenceResponse
	if err := c.Call(ctx, EndpointReferences, url.Values{}, &resp); err != nil {
		return nil, err
	}

	out := make([]models.ReferencePeriod, 0, len(resp))
	for _, r := range resp {
		out = append(out, models.ReferencePeriod{Code: r.Codigo, Label: services.NormaliseText(r.Mes)})
	}
	return out, nil
}

// CurrentReference returns the newest reference period.
func (c *Client) CurrentReference(ctx context.Context) (models.ReferencePeriod, error) {
	refs, err := c.References(ctx)
	if err != nil {
		return models.ReferencePeriod{}, err
	}
	if len(refs) == 0 {
		return models.ReferencePeriod{}, fmt.Errorf("%w: %s returned no periods", models.ErrMalformedResponse, EndpointReferences)
	}
	return refs[0], nil
}

func (c *Client) Brands(ctx context.Context, referenceCode int) ([]models.Brand, error) {
	var resp []option
	if err := c.Call(ctx, EndpointBrands, c.basePayload(referenceCode), &resp); err != nil {
		return nil, err
	}

	out := make([]models.Brand, 0, len(resp))
	for _, o := range resp {
		out = append(out, models.Brand{Code: o.Value.String(), Name: services.NormaliseText(o.Label)})
	}
	return out, nil
}

func (c *Client) Models(ctx context.Context, referenceCode int, brandCode string) ([]models.Model, error) {
	payload := c.basePayload(referenceCode)
	payload.Set("codigoMarca", brandCode)

	var resp modelsResponse
	if err := c.Call(ctx, EndpointModels, payload, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Model, 0, len(resp.Modelos))
	for _, o := range resp.Modelos {
		out = append(out, models.Model{
			Code:      o.Value.String(),
			Name:      services.NormaliseText(o.Label),
			BrandCode: brandCode,
		})
	}
	return out, nil
}

func (c *Client) ModelYears(ctx context.Context, referenceCode int, brandCode, modelCode string) ([]models.ModelYear, error) {
	payload := c.basePayload(referenceCode)
	payload.Set("codigoMarca", brandCode)
	payload.Set("codigoModelo", modelCode)

	var resp []option
	if err := c.Call(ctx, EndpointModelYears, payload, &resp); err != nil {
		return nil, err
	}

	out := make([]models.ModelYear, 0, len(resp))
	for _, o := range resp {
		year, fuel, err := services.ParseModelYearCode(o.Value.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrMalformedResponse, EndpointModelYears, err)
		}
		out = append(out, models.ModelYear{
			Code:      o.Value.String(),
			Label:     services.NormaliseText(o.Label),
			ModelCode: modelCode,
			Year:      year,
			FuelType:  fuel,
		})
	}
	return out, nil
}

// Price fetches the price of one model-year under one reference period.
func (c *Client) Price(ctx context.Context, referenceCode int, brandCode, modelCode string, year models.ModelYear) (models.PricedInstance, error) {
	payload := c.basePayload(referenceCode)
	payload.Set("codigoMarca", brandCode)
	payload.Set("codigoModelo", modelCode)
	payload.Set("anoModelo", strconv.Itoa(year.Year))
	payload.Set("codigoTipoCombustivel", strconv.Itoa(year.FuelType))
	payload.Set("tipoConsulta", "tradicional")

	var resp priceResponse
	if err := c.Call(ctx, EndpointPrice, payload, &resp); err != nil {
		return models.PricedInstance{}, err
	}

	price, err := services.ParsePrice(resp.Valor)
	if err != nil {
		return models.PricedInstance{}, fmt.Errorf("%w: %s: %v", models.ErrMalformedResponse, EndpointPrice, err)
	}

	return models.PricedInstance{
		BrandCode:     brandCode,
		ModelCode:     modelCode,
		YearCode:      year.Code,
		ReferenceCode: referenceCode,
		Fuel:          resp.Combustivel,
		Price:         price,
		FipeCode:      resp.CodigoFipe,
	}, nil
}
