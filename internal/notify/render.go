package notify

import (
	"html/template"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zuevav/pik-tracker/internal/model"
)

// priceFmt groups digits the Russian way (15 000 000).
var priceFmt = message.NewPrinter(language.Russian)

// FormatPrice renders a ruble amount with thousands grouping.
func FormatPrice(v int64) string {
	return priceFmt.Sprintf("%d ₽", v)
}

type listingView struct {
	Title      string
	Price      string
	PerMeter   string
	Area       string
	Floor      string
	Completion string
	Address    string
	Finishing  string
	URL        string
}

type priceChangeView struct {
	listingView
	OldPrice string
	Delta    string
}

var newListingsTmpl = template.Must(template.New("new").Parse(`<html><body>
<h2>Новые квартиры: {{.Name}}</h2>
<p>Найдено новых предложений: {{len .Items}}</p>
{{range .Items}}<div style="margin-bottom:16px">
<h3>{{.Title}}</h3>
<p><b>{{.Price}}</b>{{if .PerMeter}} ({{.PerMeter}}/м²){{end}}</p>
<ul>
{{if .Area}}<li>Площадь: {{.Area}} м²</li>{{end}}
{{if .Floor}}<li>Этаж: {{.Floor}}</li>{{end}}
{{if .Completion}}<li>Срок сдачи: {{.Completion}}</li>{{end}}
{{if .Finishing}}<li>Отделка: {{.Finishing}}</li>{{end}}
{{if .Address}}<li>Адрес: {{.Address}}</li>{{end}}
</ul>
{{if .URL}}<p><a href="{{.URL}}">Смотреть на сайте</a></p>{{end}}
</div>
{{end}}</body></html>`))

var priceDropTmpl = template.Must(template.New("drop").Parse(`<html><body>
<h2>Снижение цен</h2>
<p>Подешевевших квартир: {{len .Items}}</p>
{{range .Items}}<div style="margin-bottom:16px">
<h3>{{.Title}}</h3>
<p><s>{{.OldPrice}}</s> → <b>{{.Price}}</b> ({{.Delta}})</p>
<ul>
{{if .Area}}<li>Площадь: {{.Area}} м²</li>{{end}}
{{if .Floor}}<li>Этаж: {{.Floor}}</li>{{end}}
{{if .Completion}}<li>Срок сдачи: {{.Completion}}</li>{{end}}
</ul>
{{if .URL}}<p><a href="{{.URL}}">Смотреть на сайте</a></p>{{end}}
</div>
{{end}}</body></html>`))

func viewOf(l model.Listing) listingView {
	v := listingView{
		Title:      l.RoomsLabel(),
		Price:      FormatPrice(l.Price),
		Completion: l.CompletionDate,
		Address:    l.Address,
		Finishing:  l.Finishing,
		URL:        l.URL,
	}
	if l.Area > 0 {
		v.Area = priceFmt.Sprintf("%.1f", l.Area)
		v.Title += " " + v.Area + " м²"
	}
	if l.PricePerMeter != nil {
		v.PerMeter = FormatPrice(*l.PricePerMeter)
	}
	if l.Floor != nil {
		v.Floor = priceFmt.Sprintf("%d", *l.Floor)
		if l.FloorsTotal != nil {
			v.Floor = priceFmt.Sprintf("%d/%d", *l.Floor, *l.FloorsTotal)
		}
	}
	return v
}

// RenderNewListings produces the per-subscription digest of new listings.
func RenderNewListings(subName string, listings []model.Listing) (string, error) {
	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, viewOf(l))
	}
	var b strings.Builder
	err := newListingsTmpl.Execute(&b, struct {
		Name  string
		Items []listingView
	}{subName, views})
	return b.String(), err
}

// RenderPriceDrops produces the global price-decrease digest.
func RenderPriceDrops(changes []model.PriceChange) (string, error) {
	views := make([]priceChangeView, 0, len(changes))
	for _, c := range changes {
		views = append(views, priceChangeView{
			listingView: viewOf(c.Listing),
			OldPrice:    FormatPrice(c.OldPrice),
			Delta:       FormatPrice(c.Delta()),
		})
	}
	var b strings.Builder
	err := priceDropTmpl.Execute(&b, struct {
		Items []priceChangeView
	}{views})
	return b.String(), err
}
