package listing

import (
	"math"
	"sort"
	"strings"

	"zoopla_fetcher/models"
)

// MainDetails returns the ad-targeting attributes, minus internal keys
// containing a double underscore.
func MainDetails(s *State) models.Record {
	rec := models.Record{}
	for k, v := range s.details.AdTargeting {
		if strings.Contains(k, "__") {
			continue
		}
		rec[k] = v
	}
	return rec
}

// POIs keeps the nearest point of interest per type, exposed as the name under
// the type key and the distance under "<type>_distance_miles".
func POIs(s *State) models.Record {
	pois := make([]pointOfInterest, len(s.details.PointsOfInterest))
	copy(pois, s.details.PointsOfInterest)

	sort.SliceStable(pois, func(i, j int) bool {
		return distance(pois[i]) < distance(pois[j])
	})

	rec := models.Record{}
	for _, p := range pois {
		if p.Type == "" {
			continue
		}
		if _, seen := rec[p.Type]; seen {
			continue
		}
		rec[p.Type] = p.Title
		if p.DistanceMiles != nil {
			rec[p.Type+"_distance_miles"] = *p.DistanceMiles
		} else {
			rec[p.Type+"_distance_miles"] = nil
		}
	}
	return rec
}

func distance(p pointOfInterest) float64 {
	if p.DistanceMiles == nil {
		return math.Inf(1)
	}
	return *p.DistanceMiles
}

func Description(s *State) models.Record {
	rec := models.Record{"detailedDescription": nil}
	if s.details.DetailedDescription != nil {
		rec["detailedDescription"] = *s.details.DetailedDescription
	}
	return rec
}

func Location(s *State) models.Record {
	rec := models.Record{"latitude": nil, "longitude": nil}
	loc := s.details.Location
	if loc == nil || loc.Coordinates == nil {
		return rec
	}
	if loc.Coordinates.Latitude != nil {
		rec["latitude"] = *loc.Coordinates.Latitude
	}
	if loc.Coordinates.Longitude != nil {
		rec["longitude"] = *loc.Coordinates.Longitude
	}
	return rec
}

// FloorPlanURLs builds the CDN image URLs of the listing's floor plans.
func FloorPlanURLs(s *State, cdnPrefix string) []string {
	fp := s.details.FloorPlan
	if fp == nil {
		return nil
	}
	urls := make([]string, 0, len(fp.Image))
	for _, img := range fp.Image {
		if img.Filename == "" {
			continue
		}
		urls = append(urls, cdnPrefix+img.Filename)
	}
	return urls
}
