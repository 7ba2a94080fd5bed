package ogc

import (
	"encoding/xml"
	"fmt"
)

type wmsCapabilities struct {
	XMLName xml.Name   `xml:"WMS_Capabilities"`
	Version string     `xml:"version,attr"`
	Service wmsService `xml:"Service"`
	Capability wmsCapability `xml:"Capability"`
}

type wmsService struct {
	Name  string `xml:"Name"`
	Title string `xml:"Title"`
}

type wmsCapability struct {
	Request wmsRequest `xml:"Request"`
	Layer   wmsRootLayer `xml:"Layer"`
}

type wmsRequest struct {
	GetCapabilities wmsOperation `xml:"GetCapabilities"`
	GetMap          wmsOperation `xml:"GetMap"`
}

type wmsOperation struct {
	Format string  `xml:"Format"`
	DCPType wmsDCPType `xml:"DCPType"`
}

type wmsDCPType struct {
	HTTP wmsHTTP `xml:"HTTP"`
}

type wmsHTTP struct {
	Get wmsGet `xml:"Get"`
}

type wmsGet struct {
	OnlineResource wmsOnlineResource `xml:"OnlineResource"`
}

type wmsOnlineResource struct {
	Href string `xml:"xlink:href,attr"`
}

type wmsRootLayer struct {
	Title  string     `xml:"Title"`
	Layers []wmsLayer `xml:"Layer"`
}

type wmsLayer struct {
	Name        string        `xml:"Name"`
	Title       string        `xml:"Title"`
	CRS         []string      `xml:"CRS"`
	WGS84BBox   wmsEXBBox     `xml:"EX_GeographicBoundingBox"`
	BoundingBox []wmsBBox     `xml:"BoundingBox"`
	Style       wmsStyle      `xml:"Style"`
}

type wmsEXBBox struct {
	WestBoundLongitude float64 `xml:"westBoundLongitude"`
	EastBoundLongitude float64 `xml:"eastBoundLongitude"`
	SouthBoundLatitude float64 `xml:"southBoundLatitude"`
	NorthBoundLatitude float64 `xml:"northBoundLatitude"`
}

type wmsBBox struct {
	CRS  string  `xml:"CRS,attr"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

type wmsStyle struct {
	Name  string `xml:"Name"`
	Title string `xml:"Title"`
}

// axisFlippedCRS lists CRSes whose WMS 1.3.0 BoundingBox axis order is
// latitude/northing-first rather than longitude/easting-first (§4.8.5).
var axisFlippedCRS = map[string]bool{
	"EPSG:4326": true,
	"EPSG:3006": true,
}

// BuildWMSCapabilities renders the WMS 1.3.0 GetCapabilities document of
// §4.8.5 for the given inventory.
func BuildWMSCapabilities(inv Inventory, baseURL string) ([]byte, error) {
	doc := wmsCapabilities{
		Version: "1.3.0",
		Service: wmsService{Name: "WMS", Title: "tilecache"},
		Capability: wmsCapability{
			Request: wmsRequest{
				GetCapabilities: wmsOperation{Format: "text/xml", DCPType: wmsDCPType{HTTP: wmsHTTP{Get: wmsGet{OnlineResource: wmsOnlineResource{Href: baseURL + "/wms"}}}}},
				GetMap:          wmsOperation{Format: "image/png", DCPType: wmsDCPType{HTTP: wmsHTTP{Get: wmsGet{OnlineResource: wmsOnlineResource{Href: baseURL + "/wms"}}}}},
			},
			Layer: wmsRootLayer{Title: "tilecache"},
		},
	}

	for _, l := range inv.Layers {
		crsList := []string{"CRS:84", "EPSG:4326", "EPSG:3857"}
		if l.TileCRS != "" && l.TileCRS != "EPSG:3857" {
			crsList = append(crsList, l.TileCRS)
		}

		bboxes := []wmsBBox{{
			CRS: "EPSG:3857", MinX: l.Extent[0], MinY: l.Extent[1], MaxX: l.Extent[2], MaxY: l.Extent[3],
		}}
		if axisFlippedCRS["EPSG:4326"] {
			bboxes = append(bboxes, wmsBBox{
				CRS:  "EPSG:4326",
				MinX: l.ExtentWGS84[1], MinY: l.ExtentWGS84[0],
				MaxX: l.ExtentWGS84[3], MaxY: l.ExtentWGS84[2],
			})
		}

		doc.Capability.Layer.Layers = append(doc.Capability.Layer.Layers, wmsLayer{
			Name:  fmt.Sprintf("%s_%s", l.ProjectID, l.LayerName),
			Title: l.LayerName,
			CRS:   crsList,
			WGS84BBox: wmsEXBBox{
				WestBoundLongitude: l.ExtentWGS84[0],
				SouthBoundLatitude: l.ExtentWGS84[1],
				EastBoundLongitude: l.ExtentWGS84[2],
				NorthBoundLatitude: l.ExtentWGS84[3],
			},
			BoundingBox: bboxes,
			Style:       wmsStyle{Name: "default", Title: "Default"},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ogc: marshal wms capabilities: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
