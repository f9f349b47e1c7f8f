package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

// OrderConfirmationLine is one purchased product.
type OrderConfirmationLine struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderConfirmation carries the priced order shown to the customer.
type OrderConfirmation struct {
	OrderID        string
	Items          []OrderConfirmationLine
	ItemsTotal     decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	GrandTotal     decimal.Decimal
}

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

type orderLineData struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type orderConfirmationEmailData struct {
	baseEmailData
	OrderID      string
	Lines        []orderLineData
	ItemsTotal   string
	Tax          string
	Shipping     string
	FreeShipping bool
	GrandTotal   string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderOrderConfirmation(order OrderConfirmation) (string, string, error) {
	lines := make([]orderLineData, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, orderLineData{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: formatCurrency(item.UnitPrice),
			LineTotal: formatCurrency(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}

	content, err := renderEmailTemplate("order_confirmation.html", orderConfirmationEmailData{
		baseEmailData: baseEmailData{
			Title:      "Order confirmed",
			Heading:    "Thank you for your order",
			Subheading: "We are getting it ready for delivery.",
		},
		OrderID:      order.OrderID,
		Lines:        lines,
		ItemsTotal:   formatCurrency(order.ItemsTotal),
		Tax:          formatCurrency(order.TaxAmount),
		Shipping:     formatCurrency(order.ShippingAmount),
		FreeShipping: order.ShippingAmount.IsZero(),
		GrandTotal:   formatCurrency(order.GrandTotal),
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectOrderConfirmationFmt, shortOrderID(order.OrderID)), content, nil
}

func shortOrderID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatCurrency(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}
