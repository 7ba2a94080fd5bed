package ogc

import (
	"encoding/xml"
	"fmt"
)

type wmtsCapabilities struct {
	XMLName              xml.Name             `xml:"Capabilities"`
	Xmlns                string               `xml:"xmlns,attr"`
	XmlnsOws             string               `xml:"xmlns:ows,attr"`
	XmlnsXlink           string               `xml:"xmlns:xlink,attr"`
	Version              string               `xml:"version,attr"`
	ServiceIdentification serviceIdentification `xml:"ows:ServiceIdentification"`
	ServiceProvider      serviceProvider      `xml:"ows:ServiceProvider"`
	OperationsMetadata   operationsMetadata   `xml:"ows:OperationsMetadata"`
	Contents             wmtsContents         `xml:"Contents"`
}

type serviceIdentification struct {
	Title        string `xml:"ows:Title"`
	ServiceType  string `xml:"ows:ServiceType"`
	ServiceTypeVersion string `xml:"ows:ServiceTypeVersion"`
}

type serviceProvider struct {
	ProviderName string `xml:"ows:ProviderName"`
}

type operationsMetadata struct {
	Operations []owsOperation `xml:"ows:Operation"`
}

type owsOperation struct {
	Name string     `xml:"name,attr"`
	DCP  owsDCP     `xml:"ows:DCP"`
}

type owsDCP struct {
	HTTP owsHTTP `xml:"ows:HTTP"`
}

type owsHTTP struct {
	Get owsGet `xml:"ows:Get"`
}

type owsGet struct {
	Href string `xml:"xlink:href,attr"`
}

type wmtsContents struct {
	Layers      []wmtsLayer       `xml:"Layer"`
	MatrixSets  []wmtsTileMatrixSet `xml:"TileMatrixSet"`
}

type wmtsLayer struct {
	Title           string              `xml:"ows:Title"`
	Identifier      string              `xml:"ows:Identifier"`
	WGS84BBox       owsWGS84BBox        `xml:"ows:WGS84BoundingBox"`
	Style           wmtsStyle           `xml:"Style"`
	Format          string              `xml:"Format"`
	TileMatrixSetLink wmtsMatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL     wmtsResourceURL     `xml:"ResourceURL"`
}

type owsWGS84BBox struct {
	LowerCorner string `xml:"ows:LowerCorner"`
	UpperCorner string `xml:"ows:UpperCorner"`
}

type wmtsStyle struct {
	IsDefault  string `xml:"isDefault,attr"`
	Identifier string `xml:"ows:Identifier"`
}

type wmtsMatrixSetLink struct {
	TileMatrixSet string `xml:"TileMatrixSet"`
}

type wmtsResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

type wmtsTileMatrixSet struct {
	Identifier string       `xml:"ows:Identifier"`
	CRS        string       `xml:"ows:SupportedCRS"`
	Matrices   []wmtsMatrix `xml:"TileMatrix"`
}

type wmtsMatrix struct {
	Identifier       string  `xml:"ows:Identifier"`
	ScaleDenominator float64 `xml:"ScaleDenominator"`
	TopLeftCorner    string  `xml:"TopLeftCorner"`
	TileWidth        int     `xml:"TileWidth"`
	TileHeight       int     `xml:"TileHeight"`
	MatrixWidth      int64   `xml:"MatrixWidth"`
	MatrixHeight     int64   `xml:"MatrixHeight"`
}

// BuildWMTSCapabilities renders the WMTS 1.0.0 GetCapabilities document of
// §4.8.1 for the given inventory, scoped to baseURL.
func BuildWMTSCapabilities(inv Inventory, baseURL string) ([]byte, error) {
	doc := wmtsCapabilities{
		Xmlns:       "http://www.opengis.net/wmts/1.0",
		XmlnsOws:    "http://www.opengis.net/ows/1.1",
		XmlnsXlink:  "http://www.w3.org/1999/xlink",
		Version:     "1.0.0",
		ServiceIdentification: serviceIdentification{
			Title:              "tilecache",
			ServiceType:        "OGC WMTS",
			ServiceTypeVersion: "1.0.0",
		},
		ServiceProvider: serviceProvider{ProviderName: "tilecache"},
		OperationsMetadata: operationsMetadata{
			Operations: []owsOperation{
				{Name: "GetCapabilities", DCP: owsDCP{HTTP: owsHTTP{Get: owsGet{Href: baseURL + "/wmts"}}}},
				{Name: "GetTile", DCP: owsDCP{HTTP: owsHTTP{Get: owsGet{Href: baseURL + "/wmts"}}}},
			},
		},
	}

	for _, l := range inv.Layers {
		doc.Contents.Layers = append(doc.Contents.Layers, wmtsLayer{
			Title:      l.LayerName,
			Identifier: l.Identifier,
			WGS84BBox: owsWGS84BBox{
				LowerCorner: fmt.Sprintf("%g %g", l.ExtentWGS84[0], l.ExtentWGS84[1]),
				UpperCorner: fmt.Sprintf("%g %g", l.ExtentWGS84[2], l.ExtentWGS84[3]),
			},
			Style:             wmtsStyle{IsDefault: "true", Identifier: "default"},
			Format:            "image/png",
			TileMatrixSetLink: wmtsMatrixSetLink{TileMatrixSet: l.TileMatrixSetID},
			ResourceURL: wmtsResourceURL{
				Format:       "image/png",
				ResourceType: "tile",
				Template:     fmt.Sprintf("%s/wmts/rest/%s/%s/{Style}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.png", baseURL, l.ProjectKey, l.LayerKey),
			},
		})
	}

	for _, set := range inv.MatrixSets {
		xset := wmtsTileMatrixSet{Identifier: set.ID, CRS: set.CRS}
		for _, m := range set.Matrices {
			xset.Matrices = append(xset.Matrices, wmtsMatrix{
				Identifier:       m.Identifier,
				ScaleDenominator: m.ScaleDenominator,
				TopLeftCorner:    fmt.Sprintf("%g %g", m.TopLeftX, m.TopLeftY),
				TileWidth:        m.TileWidth,
				TileHeight:       m.TileHeight,
				MatrixWidth:      m.MatrixWidth,
				MatrixHeight:     m.MatrixHeight,
			})
		}
		doc.Contents.MatrixSets = append(doc.Contents.MatrixSets, xset)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ogc: marshal wmts capabilities: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
