// Package testutil provides fixtures shared across package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grainplan/internal/model"
)

// Key, Property and Metric build unqualified concepts in the default namespace.
func Key(name string) model.Concept { return model.NewConcept(name, model.PurposeKey) }

func Property(name string) model.Concept { return model.NewConcept(name, model.PurposeProperty) }

func Metric(name string, agg model.Aggregate) model.Concept {
	c := model.NewConcept(name, model.PurposeMetric)
	c.Aggregate = agg
	return c
}

// Table builds a base datasource whose column names equal concept names.
func Table(name string, grain []model.Concept, concepts ...model.Concept) *model.BaseDatasource {
	ds := &model.BaseDatasource{Name: name, Grain: model.NewGrain(grain...)}
	for _, c := range concepts {
		ds.Columns = append(ds.Columns, model.Column{Name: c.Name, Concept: c})
	}
	return ds
}

// Env builds an environment from base datasources.
func Env(t testing.TB, datasources ...*model.BaseDatasource) *model.Environment {
	t.Helper()
	env := model.NewEnvironment()
	for _, ds := range datasources {
		require.NoError(t, env.AddDatasource(ds))
	}
	return env
}

// Shop concepts used by ShopEnv.
var (
	OrderID      = Key("order_id")
	LineItemID   = Key("line_item_id")
	CustomerID   = Key("customer_id")
	ProductID    = Key("product_id")
	Region       = Property("region")
	CustomerName = Property("customer_name")
	ProductName  = Property("product_name")
	Amount       = Metric("amount", model.AggSum)
	Quantity     = Metric("quantity", model.AggSum)
	TotalAmount  = Metric("total_amount", model.AggSum)
)

// ShopEnv is a small retail catalog:
//
//	orders      grain order_id               order_id, customer_id, amount
//	line_items  grain order_id, line_item_id order_id, line_item_id, product_id, quantity, total_amount
//	customers   grain customer_id            customer_id, customer_name, region
//	products    grain product_id             product_id, product_name
func ShopEnv(t testing.TB) *model.Environment {
	t.Helper()
	return Env(t,
		Table("orders", []model.Concept{OrderID}, OrderID, CustomerID, Amount),
		Table("line_items", []model.Concept{OrderID, LineItemID}, OrderID, LineItemID, ProductID, Quantity, TotalAmount),
		Table("customers", []model.Concept{CustomerID}, CustomerID, CustomerName, Region),
		Table("products", []model.Concept{ProductID}, ProductID, ProductName),
	)
}
