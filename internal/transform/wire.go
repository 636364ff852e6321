package transform

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// payload is the completed-analysis body. Sections and items may sit under
// "menu" or at the top level, and the whole body may be wrapped in "data"
// or "result".
type payload struct {
	Menu       *menuBody   `json:"menu"`
	Extraction *extraction `json:"extraction"`
	Data       *payload    `json:"data"`
	Result     *payload    `json:"result"`
	menuBody
}

type menuBody struct {
	Sections   []section  `json:"sections"`
	Items      []item     `json:"items"`
	TotalItems *flexFloat `json:"totalItems"`
	Cuisine    string     `json:"cuisine"`
	Language   string     `json:"language"`
}

type section struct {
	Name  string `json:"name"`
	Items []item `json:"items"`
}

type extraction struct {
	Confidence *flexFloat `json:"confidence"`
	Quality    string     `json:"quality"`
}

type item struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       *flexFloat   `json:"price"`
	Currency    string       `json:"currency"`
	Confidence  *flexFloat   `json:"confidence"`
	Cuisine     string       `json:"cuisine"`
	Nutrition   *nutrition   `json:"nutrition"`
	DishDetails *dishDetails `json:"dishDetails"`
}

type dishDetails struct {
	Description     string       `json:"description"`
	Cuisine         string       `json:"cuisine"`
	Ingredients     []ingredient `json:"ingredients"`
	AllergenSignals []string     `json:"allergenSignals"`
	Nutrition       *nutrition   `json:"nutrition"`
}

type nutrition struct {
	Calories *flexFloat `json:"calories"`
	Protein  *flexFloat `json:"protein"`
	Carbs    *flexFloat `json:"carbs"`
	Fats     *flexFloat `json:"fats"`
	Fat      *flexFloat `json:"fat"`
	Fiber    *flexFloat `json:"fiber"`
	Sugar    *flexFloat `json:"sugar"`
	Sodium   *flexFloat `json:"sodium"`
}

// ingredient accepts either a bare name or an object.
type ingredient struct {
	Name      string
	Amount    string
	Allergens []string
}

func (i *ingredient) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &i.Name)
	}
	var obj struct {
		Name      string          `json:"name"`
		Amount    json.RawMessage `json:"amount"`
		Allergens []string        `json:"allergens"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	i.Name = obj.Name
	i.Allergens = obj.Allergens
	if len(obj.Amount) > 0 && string(obj.Amount) != "null" {
		var s string
		if err := json.Unmarshal(obj.Amount, &s); err == nil {
			i.Amount = s
		} else {
			i.Amount = string(obj.Amount)
		}
	}
	return nil
}

// flexFloat accepts a JSON number or a numeric string such as "12.50" or
// "$12.50". Unparseable strings decode as zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimFunc(s, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		})
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// unwrap descends through data/result wrappers until it finds a body with
// content.
func (p *payload) unwrap() *payload {
	cur := p
	for i := 0; i < 3 && cur != nil; i++ {
		if cur.hasItems() {
			return cur
		}
		switch {
		case cur.Data != nil:
			cur = cur.Data.inherit(cur)
		case cur.Result != nil:
			cur = cur.Result.inherit(cur)
		default:
			return cur
		}
	}
	return cur
}

// inherit copies extraction metadata from an outer wrapper when the inner
// body carries none.
func (p *payload) inherit(outer *payload) *payload {
	if p.Extraction == nil {
		p.Extraction = outer.Extraction
	}
	return p
}

func (p *payload) hasItems() bool {
	if len(p.Items) > 0 || len(p.Sections) > 0 {
		return true
	}
	return p.Menu != nil && (len(p.Menu.Items) > 0 || len(p.Menu.Sections) > 0)
}

// flatten returns every item across every section, then any unsectioned
// items, in the order the server reported them.
func (p *payload) flatten() []item {
	var out []item
	for _, body := range []*menuBody{p.Menu, &p.menuBody} {
		if body == nil {
			continue
		}
		for _, s := range body.Sections {
			out = append(out, s.Items...)
		}
		out = append(out, body.Items...)
	}
	return out
}

func (p *payload) cuisine() string {
	if p.Menu != nil && p.Menu.Cuisine != "" {
		return p.Menu.Cuisine
	}
	return p.Cuisine
}

func (p *payload) language() string {
	if p.Menu != nil && p.Menu.Language != "" {
		return p.Menu.Language
	}
	return p.Language
}
