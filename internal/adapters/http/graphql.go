package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/flightviz/dronepath/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services. Field names
// follow the JSON names of the domain types so the default resolver applies.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	waypointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Waypoint",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
			"cityName":  &graphql.Field{Type: graphql.String},
		},
	})

	routeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Route",
		Fields: graphql.Fields{
			"drone_name": &graphql.Field{Type: graphql.String},
			"version":    &graphql.Field{Type: graphql.Int},
			"updated_at": &graphql.Field{Type: graphql.DateTime},
			"waypoints":  &graphql.Field{Type: graphql.NewList(waypointType)},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RouteStats",
		Fields: graphql.Fields{
			"waypoints":   &graphql.Field{Type: graphql.Int},
			"segments":    &graphql.Field{Type: graphql.Int},
			"distance_km": &graphql.Field{Type: graphql.Float},
			"bounds":      &graphql.Field{Type: boundsType},
		},
	})

	playbackType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PlaybackState",
		Fields: graphql.Fields{
			"is_playing": &graphql.Field{Type: graphql.Boolean},
			"speed":      &graphql.Field{Type: graphql.Float},
			"progress":   &graphql.Field{Type: graphql.Float},
		},
	})

	frameType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Frame",
		Fields: graphql.Fields{
			"route_version":  &graphql.Field{Type: graphql.Int},
			"waypoint_count": &graphql.Field{Type: graphql.Int},
			"position":       &graphql.Field{Type: geoPointType},
			"segment":        &graphql.Field{Type: graphql.Int},
			"playback":       &graphql.Field{Type: playbackType},
			"time":           &graphql.Field{Type: graphql.DateTime},
		},
	})

	positionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Position",
		Fields: graphql.Fields{
			"progress": &graphql.Field{Type: graphql.Float},
			"position": &graphql.Field{Type: geoPointType},
			"segment":  &graphql.Field{Type: graphql.Int},
		},
	})

	addedType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AddedWaypoint",
		Fields: graphql.Fields{
			"index":         &graphql.Field{Type: graphql.Int},
			"waypoint":      &graphql.Field{Type: waypointType},
			"route_version": &graphql.Field{Type: graphql.Int},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"simulation": &graphql.Field{
				Type:        frameType,
				Description: "Current playback frame",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Simulation.Frame(), nil
				},
			},
			"route": &graphql.Field{
				Type:        routeType,
				Description: "Current route",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Routes.Current(), nil
				},
			},
			"routeStats": &graphql.Field{
				Type:        statsType,
				Description: "Waypoint, segment and distance totals of the current route",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Routes.Stats(), nil
				},
			},
			"position": &graphql.Field{
				Type:        positionType,
				Description: "Position at an arbitrary progress, without moving the clock",
				Args: graphql.FieldConfigArgument{
					"progress": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					progress := p.Args["progress"].(float64)
					resp := PositionResponse{Progress: progress}
					if pt, seg, ok := deps.Simulation.PositionAt(progress); ok {
						resp.Position = &pt
						resp.Segment = seg
					}
					return resp, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"play": &graphql.Field{
				Type: frameType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Simulation.Play(), nil
				},
			},
			"pause": &graphql.Field{
				Type: frameType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Simulation.Pause(), nil
				},
			},
			"reset": &graphql.Field{
				Type: frameType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Simulation.Reset(), nil
				},
			},
			"seek": &graphql.Field{
				Type: frameType,
				Args: graphql.FieldConfigArgument{
					"progress": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Simulation.Seek(p.Args["progress"].(float64)), nil
				},
			},
			"setSpeed": &graphql.Field{
				Type: frameType,
				Args: graphql.FieldConfigArgument{
					"speed": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					speed := float64(p.Args["speed"].(int))
					if !validSpeed(speed) {
						return nil, errors.New(speedRangeMessage)
					}
					return deps.Simulation.SetSpeed(speed)
				},
			},
			"addWaypoint": &graphql.Field{
				Type:        addedType,
				Description: "Append a waypoint; the city is geocoded when lookup is true, or when lookup is omitted and a coordinate is 0",
				Args: graphql.FieldConfigArgument{
					"cityName":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"latitude":  &graphql.ArgumentConfig{Type: graphql.Float},
					"longitude": &graphql.ArgumentConfig{Type: graphql.Float},
					"lookup":    &graphql.ArgumentConfig{Type: graphql.Boolean},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					req := usecases.AddWaypointRequest{CityName: p.Args["cityName"].(string)}
					if v, ok := p.Args["latitude"].(float64); ok {
						req.Latitude = v
					}
					if v, ok := p.Args["longitude"].(float64); ok {
						req.Longitude = v
					}
					if v, ok := p.Args["lookup"].(bool); ok {
						req.Lookup = &v
					}
					route, wp, err := deps.Routes.AddWaypoint(p.Context, req)
					if err != nil {
						return nil, err
					}
					return AddWaypointResponse{Index: route.Len() - 1, Waypoint: wp, RouteVersion: route.Version}, nil
				},
			},
			"deleteWaypoint": &graphql.Field{
				Type: routeType,
				Args: graphql.FieldConfigArgument{
					"index": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Routes.DeleteWaypoint(p.Context, p.Args["index"].(int))
				},
			},
			"importRoute": &graphql.Field{
				Type:        routeType,
				Description: "Replace the route with a route file given as a JSON string",
				Args: graphql.FieldConfigArgument{
					"document": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Routes.Import(p.Context, strings.NewReader(p.Args["document"].(string)))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
